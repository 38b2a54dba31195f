package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"github.com/rewired-gh/crowdcast/internal/models"
)

// JSONFiles reads forecast documents from InputDir and writes congestion
// documents to OutputDir. Both are arrays of day objects:
//
//	[{"day": "2024-05-01", "0": 3.2, "1": 0, ..., "23": 1.5}]
//
// Forecast values are arrival counts; congestion values are label names in
// LabelStyle. Existing documents in either style are read back.
// File names carry the location and the run date:
//
//	<InputDir>/<location>_<run-date>_forecast.json
//	<OutputDir>/<location>_<run-date>_congestion.json
type JSONFiles struct {
	InputDir   string
	OutputDir  string
	RunDate    time.Time
	LabelStyle LabelStyle

	filePermissions os.FileMode
	dirPermissions  os.FileMode
	mu              sync.Mutex // serializes read-modify-write of label documents
}

// LabelStyle selects how labels are spelled in congestion documents.
type LabelStyle string

const (
	LabelStyleEnglish LabelStyle = "en" // spacious, moderate, slightly-crowded, crowded
	LabelStyleKorean  LabelStyle = "ko" // 여유, 보통, 약간 혼잡, 혼잡
)

// ParseLabelStyle accepts "en" or "ko". An empty string is Korean.
func ParseLabelStyle(s string) (LabelStyle, error) {
	switch LabelStyle(s) {
	case "", LabelStyleKorean:
		return LabelStyleKorean, nil
	case LabelStyleEnglish:
		return LabelStyleEnglish, nil
	default:
		return "", eris.Errorf("storage: unknown label style %q (expected en or ko)", s)
	}
}

func (s LabelStyle) format(l models.Label) string {
	if s == LabelStyleEnglish {
		return l.String()
	}
	return l.Korean()
}

// NewJSONFiles creates a JSON document backing that writes Korean labels.
// A zero runDate means today.
func NewJSONFiles(inputDir, outputDir string, runDate time.Time) *JSONFiles {
	if runDate.IsZero() {
		runDate = time.Now()
	}
	if outputDir == "" {
		outputDir = inputDir
	}
	return &JSONFiles{
		InputDir:        inputDir,
		OutputDir:       outputDir,
		RunDate:         runDate,
		LabelStyle:      LabelStyleKorean,
		filePermissions: 0o644,
		dirPermissions:  0o755,
	}
}

// ForecastPath returns the forecast document path of a location.
func (j *JSONFiles) ForecastPath(locationID string) string {
	return filepath.Join(j.InputDir, fmt.Sprintf("%s_%s_forecast.json", locationID, j.RunDate.Format(models.DateLayout)))
}

// CongestionPath returns the congestion document path of a location.
func (j *JSONFiles) CongestionPath(locationID string) string {
	return filepath.Join(j.OutputDir, fmt.Sprintf("%s_%s_congestion.json", locationID, j.RunDate.Format(models.DateLayout)))
}

// Series reads the location's forecast document and returns the days in
// [from, to]. A missing document is an empty series.
func (j *JSONFiles) Series(ctx context.Context, locationID string, from, to time.Time) ([]models.HourlyObservation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(j.ForecastPath(locationID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, eris.Wrapf(models.ErrEmptySeries, "no forecast document for %s", locationID)
	}
	if err != nil {
		return nil, eris.Wrap(err, "storage: open forecast document")
	}
	defer f.Close()

	observations, err := ReadForecastDocument(f, locationID, from.Location())
	if err != nil {
		return nil, err
	}

	days := make(map[string]*hourValues)
	for _, obs := range observations {
		day := obs.Date.Format(models.DateLayout)
		if !inRange(day, from, to) {
			continue
		}
		if days[day] == nil {
			days[day] = &hourValues{}
		}
		days[day][obs.Hour] = obs.Count
	}
	return fillSeries(locationID, days, from.Location())
}

// ReadForecastDocument decodes a forecast document into observations of one
// location, ordered by day and hour. Hours missing from a day object read as
// zero.
func ReadForecastDocument(r io.Reader, locationID string, loc *time.Location) ([]models.HourlyObservation, error) {
	var doc []map[string]json.RawMessage
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, eris.Wrap(err, "storage: decode forecast document")
	}
	loc = locationOrUTC(loc)

	var observations []models.HourlyObservation
	for i, entry := range doc {
		var day string
		if err := json.Unmarshal(entry["day"], &day); err != nil {
			return nil, eris.Wrapf(err, "storage: entry %d has no day", i)
		}
		date, err := models.ParseDate(day, loc)
		if err != nil {
			return nil, eris.Wrapf(err, "storage: entry %d", i)
		}

		for h := 0; h < 24; h++ {
			obs := models.HourlyObservation{LocationID: locationID, Date: date, Hour: h}
			if raw, ok := entry[strconv.Itoa(h)]; ok && string(raw) != "null" {
				if err := json.Unmarshal(raw, &obs.Count); err != nil {
					return nil, eris.Wrapf(err, "storage: %s hour %d is not a number", day, h)
				}
			}
			observations = append(observations, obs)
		}
	}

	sort.SliceStable(observations, func(a, b int) bool {
		return observations[a].Slot() < observations[b].Slot()
	})
	return observations, nil
}

// Upsert merges the records into the congestion documents of their locations.
// Existing labels for other hours and days are preserved.
func (j *JSONFiles) Upsert(ctx context.Context, records []models.CongestionRecord) (int, error) {
	if err := validateRecords(records); err != nil {
		return 0, err
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	byLocation := make(map[string][]models.CongestionRecord)
	for _, r := range records {
		byLocation[r.LocationID] = append(byLocation[r.LocationID], r)
	}

	written := 0
	for id, recs := range byLocation {
		if err := ctx.Err(); err != nil {
			return written, err
		}

		path := j.CongestionPath(id)
		doc, err := readLabelDocument(path)
		if err != nil {
			return written, err
		}
		for _, r := range recs {
			day := r.Date.Format(models.DateLayout)
			if doc[day] == nil {
				doc[day] = make(map[int]models.Label)
			}
			doc[day][r.Hour] = r.Label
		}
		if err := j.writeLabelDocument(path, doc); err != nil {
			return written, err
		}
		written += len(recs)
	}
	return written, nil
}

// Close is a no-op; documents are opened per call.
func (j *JSONFiles) Close() error {
	return nil
}

// labelDocument maps day -> hour -> label.
type labelDocument map[string]map[int]models.Label

func readLabelDocument(path string) (labelDocument, error) {
	doc := make(labelDocument)

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return doc, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "storage: read congestion document")
	}

	var entries []map[string]json.RawMessage
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, eris.Wrapf(err, "storage: decode %s", path)
	}
	for _, entry := range entries {
		var day string
		if err := json.Unmarshal(entry["day"], &day); err != nil || day == "" {
			continue
		}
		hours := make(map[int]models.Label)
		for h := 0; h < 24; h++ {
			raw, ok := entry[strconv.Itoa(h)]
			if !ok {
				continue
			}
			var name string
			if err := json.Unmarshal(raw, &name); err != nil {
				return nil, eris.Wrapf(err, "storage: decode %s: %s hour %d", path, day, h)
			}
			label, err := models.ParseLabel(name)
			if err != nil {
				return nil, eris.Wrapf(err, "storage: decode %s: %s hour %d", path, day, h)
			}
			hours[h] = label
		}
		doc[day] = hours
	}
	return doc, nil
}

// writeLabelDocument writes days in order with "day" first and hours in
// numeric order, via a temporary file renamed into place.
func (j *JSONFiles) writeLabelDocument(path string, doc labelDocument) error {
	if err := os.MkdirAll(filepath.Dir(path), j.dirPermissions); err != nil {
		return eris.Wrap(err, "storage: create output directory")
	}

	days := make([]string, 0, len(doc))
	for d := range doc {
		days = append(days, d)
	}
	sort.Strings(days)

	var buf bytes.Buffer
	buf.WriteString("[\n")
	for i, day := range days {
		dayJSON, _ := json.Marshal(day)
		fmt.Fprintf(&buf, "  {\"day\": %s", dayJSON)
		for h := 0; h < 24; h++ {
			label, ok := doc[day][h]
			if !ok {
				continue
			}
			labelJSON, _ := json.Marshal(j.LabelStyle.format(label))
			fmt.Fprintf(&buf, ", \"%d\": %s", h, labelJSON)
		}
		buf.WriteString("}")
		if i < len(days)-1 {
			buf.WriteString(",")
		}
		buf.WriteString("\n")
	}
	buf.WriteString("]\n")

	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, buf.Bytes(), j.filePermissions); err != nil {
		return eris.Wrap(err, "storage: write congestion document")
	}
	if err := os.Rename(tempPath, path); err != nil {
		_ = os.Remove(tempPath)
		return eris.Wrap(err, "storage: rename congestion document")
	}
	return nil
}

// WriteForecastDocument writes observations of one location as a forecast
// document. Days are written in order with "day" first and hours in numeric
// order.
func WriteForecastDocument(w io.Writer, observations []models.HourlyObservation) error {
	byDay := make(map[string]map[int]float64)
	for _, obs := range observations {
		day := obs.Date.Format(models.DateLayout)
		if byDay[day] == nil {
			byDay[day] = make(map[int]float64)
		}
		byDay[day][obs.Hour] = obs.Count
	}

	days := make([]string, 0, len(byDay))
	for d := range byDay {
		days = append(days, d)
	}
	sort.Strings(days)

	var buf bytes.Buffer
	buf.WriteString("[\n")
	for i, day := range days {
		dayJSON, _ := json.Marshal(day)
		fmt.Fprintf(&buf, "  {\"day\": %s", dayJSON)
		for h := 0; h < 24; h++ {
			count, ok := byDay[day][h]
			if !ok {
				continue
			}
			countJSON, err := json.Marshal(count)
			if err != nil {
				return eris.Wrapf(err, "storage: encode forecast %s hour %d", day, h)
			}
			fmt.Fprintf(&buf, ", \"%d\": %s", h, countJSON)
		}
		buf.WriteString("}")
		if i < len(days)-1 {
			buf.WriteString(",")
		}
		buf.WriteString("\n")
	}
	buf.WriteString("]\n")

	_, err := w.Write(buf.Bytes())
	return eris.Wrap(err, "storage: write forecast document")
}
