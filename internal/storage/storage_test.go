package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rewired-gh/crowdcast/internal/models"
)

var kst = time.FixedZone("KST", 9*60*60)

func day(s string) time.Time {
	t, err := models.ParseDate(s, kst)
	if err != nil {
		panic(err)
	}
	return t
}

func testRecords(id string, date string, labels ...models.Label) []models.CongestionRecord {
	now := time.Date(2024, 4, 30, 9, 0, 0, 0, time.UTC)
	records := make([]models.CongestionRecord, len(labels))
	for h, l := range labels {
		records[h] = models.CongestionRecord{
			LocationID: id,
			Category:   models.CategoryPark,
			Date:       day(date),
			Hour:       h,
			Label:      l,
			Population: float64(h * 10),
			UpdatedAt:  now,
		}
	}
	return records
}

const forecastDoc = `[
  {"day": "2024-05-02", "0": 1, "1": 2.5, "23": 4},
  {"day": "2024-05-01", "0": 0, "5": 3},
  {"day": "2024-05-09", "0": 9}
]`

func writeForecast(t *testing.T, j *JSONFiles, id string) {
	t.Helper()
	if err := os.MkdirAll(j.InputDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(j.ForecastPath(id), []byte(forecastDoc), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestJSONFiles_Series(t *testing.T) {
	dir := t.TempDir()
	j := NewJSONFiles(filepath.Join(dir, "in"), filepath.Join(dir, "out"), day("2024-04-30"))
	writeForecast(t, j, "seoul-forest")

	if !strings.HasSuffix(j.ForecastPath("seoul-forest"), "seoul-forest_2024-04-30_forecast.json") {
		t.Errorf("unexpected forecast path %s", j.ForecastPath("seoul-forest"))
	}

	series, err := j.Series(context.Background(), "seoul-forest", day("2024-05-01"), day("2024-05-07"))
	if err != nil {
		t.Fatalf("Series failed: %v", err)
	}

	// 2024-05-09 is outside the range, so two days remain.
	if len(series) != 48 {
		t.Fatalf("expected 48 observations, got %d", len(series))
	}
	if series[0].Date.Format(models.DateLayout) != "2024-05-01" || series[0].Hour != 0 {
		t.Errorf("series not ordered: first is %s hour %d", series[0].Date.Format(models.DateLayout), series[0].Hour)
	}
	if series[5].Count != 3 || series[6].Count != 0 {
		t.Errorf("unexpected values for 2024-05-01: %v %v", series[5].Count, series[6].Count)
	}
	if series[25].Count != 2.5 || series[47].Count != 4 {
		t.Errorf("unexpected values for 2024-05-02: %v %v", series[25].Count, series[47].Count)
	}
	for i := 1; i < len(series); i++ {
		if series[i].Slot()-series[i-1].Slot() != 1 {
			t.Fatalf("series not contiguous at %d", i)
		}
	}
}

func TestJSONFiles_SeriesMissing(t *testing.T) {
	j := NewJSONFiles(t.TempDir(), "", day("2024-04-30"))

	_, err := j.Series(context.Background(), "dream-forest", day("2024-05-01"), day("2024-05-07"))
	if !errors.Is(err, models.ErrEmptySeries) {
		t.Errorf("expected ErrEmptySeries, got %v", err)
	}
}

func TestJSONFiles_SeriesOutOfRange(t *testing.T) {
	j := NewJSONFiles(t.TempDir(), "", day("2024-04-30"))
	writeForecast(t, j, "seoul-forest")

	_, err := j.Series(context.Background(), "seoul-forest", day("2024-06-01"), day("2024-06-07"))
	if !errors.Is(err, models.ErrEmptySeries) {
		t.Errorf("expected ErrEmptySeries, got %v", err)
	}
}

func TestJSONFiles_UpsertMerges(t *testing.T) {
	dir := t.TempDir()
	j := NewJSONFiles(dir, filepath.Join(dir, "out"), day("2024-04-30"))
	j.LabelStyle = LabelStyleEnglish
	ctx := context.Background()

	first := testRecords("seoul-forest", "2024-05-01", models.LabelSpacious, models.LabelModerate, models.LabelCrowded)
	n, err := j.Upsert(ctx, first)
	if err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if n != 3 {
		t.Errorf("expected 3 written, got %d", n)
	}

	// Overwrite hour 1 and add another day.
	second := testRecords("seoul-forest", "2024-05-01", models.LabelSpacious, models.LabelSlightlyCrowded)[1:]
	second = append(second, testRecords("seoul-forest", "2024-05-02", models.LabelModerate)...)
	if _, err := j.Upsert(ctx, second); err != nil {
		t.Fatalf("second Upsert failed: %v", err)
	}

	data, err := os.ReadFile(j.CongestionPath("seoul-forest"))
	if err != nil {
		t.Fatal(err)
	}
	doc, err := readLabelDocument(j.CongestionPath("seoul-forest"))
	if err != nil {
		t.Fatal(err)
	}

	want := map[string]map[int]models.Label{
		"2024-05-01": {0: models.LabelSpacious, 1: models.LabelSlightlyCrowded, 2: models.LabelCrowded},
		"2024-05-02": {0: models.LabelModerate},
	}
	for d, hours := range want {
		for h, label := range hours {
			if doc[d][h] != label {
				t.Errorf("%s hour %d: expected %v, got %v", d, h, label, doc[d][h])
			}
		}
		if len(doc[d]) != len(hours) {
			t.Errorf("%s: expected %d hours, got %d", d, len(hours), len(doc[d]))
		}
	}

	if !strings.Contains(string(data), `{"day": "2024-05-01", "0": "spacious", "1": "slightly-crowded", "2": "crowded"}`) {
		t.Errorf("unexpected document layout:\n%s", data)
	}
	if _, err := os.Stat(j.CongestionPath("seoul-forest") + ".tmp"); !os.IsNotExist(err) {
		t.Error("temporary file left behind")
	}
}

func TestJSONFiles_UpsertKoreanLabels(t *testing.T) {
	dir := t.TempDir()
	j := NewJSONFiles(dir, dir, day("2025-07-01"))
	ctx := context.Background()

	records := testRecords("seoul-forest", "2025-07-02", models.LabelSpacious, models.LabelModerate, models.LabelSlightlyCrowded, models.LabelCrowded)
	if _, err := j.Upsert(ctx, records); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	data, err := os.ReadFile(j.CongestionPath("seoul-forest"))
	if err != nil {
		t.Fatal(err)
	}
	want := `{"day": "2025-07-02", "0": "여유", "1": "보통", "2": "약간 혼잡", "3": "혼잡"}`
	if !strings.Contains(string(data), want) {
		t.Errorf("expected %s in document:\n%s", want, data)
	}
}

func TestJSONFiles_UpsertRewritesOtherStyle(t *testing.T) {
	dir := t.TempDir()
	j := NewJSONFiles(dir, dir, day("2025-07-01"))
	path := j.CongestionPath("4035")
	if err := os.WriteFile(path, []byte(`[{"day": "2025-07-02", "0": "crowded", "1": "moderate"}]`), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := j.Upsert(context.Background(), testRecords("4035", "2025-07-02", models.LabelSpacious)); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	want := `{"day": "2025-07-02", "0": "여유", "1": "보통"}`
	if !strings.Contains(string(data), want) {
		t.Errorf("expected %s in document:\n%s", want, data)
	}
}

func TestJSONFiles_UpsertRejectsUnknownStoredLabel(t *testing.T) {
	dir := t.TempDir()
	j := NewJSONFiles(dir, dir, day("2025-07-01"))
	if err := os.WriteFile(j.CongestionPath("4035"), []byte(`[{"day": "2025-07-02", "0": "packed"}]`), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := j.Upsert(context.Background(), testRecords("4035", "2025-07-02", models.LabelSpacious)); err == nil {
		t.Error("expected error for unknown stored label")
	}
}

func TestParseLabelStyle(t *testing.T) {
	tests := map[string]LabelStyle{"": LabelStyleKorean, "ko": LabelStyleKorean, "en": LabelStyleEnglish}
	for in, want := range tests {
		got, err := ParseLabelStyle(in)
		if err != nil || got != want {
			t.Errorf("ParseLabelStyle(%q) = %q, %v; expected %q", in, got, err, want)
		}
	}
	if _, err := ParseLabelStyle("fr"); err == nil {
		t.Error("expected error for unknown style")
	}
}

func TestJSONFiles_UpsertRejectsInvalid(t *testing.T) {
	j := NewJSONFiles(t.TempDir(), "", day("2024-04-30"))
	records := testRecords("seoul-forest", "2024-05-01", models.LabelSpacious)
	records[0].Hour = 24

	if _, err := j.Upsert(context.Background(), records); !errors.Is(err, models.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}

func TestReadForecastDocumentErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"not json", "{"},
		{"missing day", `[{"0": 1}]`},
		{"bad day", `[{"day": "05/01/2024"}]`},
		{"non-numeric hour", `[{"day": "2024-05-01", "3": "many"}]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ReadForecastDocument(strings.NewReader(tt.doc), "x", kst); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestWriteForecastDocumentRoundTrip(t *testing.T) {
	obs := []models.HourlyObservation{
		{LocationID: "x", Date: day("2024-05-02"), Hour: 3, Count: 7},
		{LocationID: "x", Date: day("2024-05-01"), Hour: 0, Count: 1.5},
	}

	var sb strings.Builder
	if err := WriteForecastDocument(&sb, obs); err != nil {
		t.Fatalf("WriteForecastDocument failed: %v", err)
	}

	want := "[\n  {\"day\": \"2024-05-01\", \"0\": 1.5},\n  {\"day\": \"2024-05-02\", \"3\": 7}\n]\n"
	if sb.String() != want {
		t.Errorf("unexpected document layout:\n%s", sb.String())
	}

	got, err := ReadForecastDocument(strings.NewReader(sb.String()), "x", kst)
	if err != nil {
		t.Fatalf("ReadForecastDocument failed: %v", err)
	}
	if len(got) != 48 {
		t.Fatalf("expected 48 observations, got %d", len(got))
	}
	if got[0].Count != 1.5 || got[27].Count != 7 {
		t.Errorf("unexpected values %v %v", got[0].Count, got[27].Count)
	}
}

func TestOpenJSONLabelStyle(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	b, err := Open(ctx, Options{Driver: DriverJSON, InputDir: dir, LabelStyle: "en"})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if j := b.(*JSONFiles); j.LabelStyle != LabelStyleEnglish {
		t.Errorf("expected english labels, got %q", j.LabelStyle)
	}

	b, err = Open(ctx, Options{Driver: DriverJSON, InputDir: dir})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if j := b.(*JSONFiles); j.LabelStyle != LabelStyleKorean {
		t.Errorf("expected korean labels by default, got %q", j.LabelStyle)
	}

	if _, err := Open(ctx, Options{Driver: DriverJSON, InputDir: dir, LabelStyle: "fr"}); err == nil {
		t.Error("expected error for unknown label style")
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	if _, err := Open(context.Background(), Options{Driver: "mysql"}); err == nil {
		t.Error("expected error for unknown driver")
	}
}
