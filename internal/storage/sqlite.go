package storage

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/rewired-gh/crowdcast/internal/models"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS forecast (
	location_id   TEXT    NOT NULL,
	forecast_date TEXT    NOT NULL,
	forecast_hour INTEGER NOT NULL,
	yhat          REAL    NOT NULL,
	created_at    TEXT    NOT NULL,
	updated_at    TEXT    NOT NULL,
	PRIMARY KEY (location_id, forecast_date, forecast_hour)
);
CREATE TABLE IF NOT EXISTS congestion (
	location_id TEXT    NOT NULL,
	category    TEXT    NOT NULL,
	date        TEXT    NOT NULL,
	hour        INTEGER NOT NULL,
	label       TEXT    NOT NULL,
	population  REAL    NOT NULL,
	updated_at  TEXT    NOT NULL,
	PRIMARY KEY (location_id, category, date, hour)
);
CREATE INDEX IF NOT EXISTS idx_congestion_date ON congestion(date);
`

const sqliteUpsertCongestion = `
INSERT INTO congestion (location_id, category, date, hour, label, population, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (location_id, category, date, hour) DO UPDATE SET
	label = excluded.label,
	population = excluded.population,
	updated_at = excluded.updated_at`

const sqliteUpsertForecast = `
INSERT INTO forecast (location_id, forecast_date, forecast_hour, yhat, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (location_id, forecast_date, forecast_hour) DO UPDATE SET
	yhat = excluded.yhat,
	updated_at = excluded.updated_at`

// SQLite stores forecasts and congestion labels in a single database file.
// The connection pool is limited to one connection, so concurrent writers are
// serialized by database/sql.
type SQLite struct {
	db  *sql.DB
	loc *time.Location
}

// OpenSQLite opens (or creates) the database at path and initializes the
// schema. Use ":memory:" for a throwaway database. Dates are interpreted in
// loc, which defaults to UTC.
func OpenSQLite(path string, loc *time.Location) (*SQLite, error) {
	if path == "" {
		return nil, eris.New("storage: sqlite path must not be empty")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, eris.Wrap(err, "storage: open sqlite")
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, eris.Wrap(err, "storage: initialize sqlite schema")
	}
	return &SQLite{db: db, loc: locationOrUTC(loc)}, nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// Series returns the stored forecast of a location in [from, to].
func (s *SQLite) Series(ctx context.Context, locationID string, from, to time.Time) ([]models.HourlyObservation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT forecast_date, forecast_hour, yhat
		FROM forecast
		WHERE location_id = ? AND forecast_date >= ? AND forecast_date <= ?
		ORDER BY forecast_date, forecast_hour`,
		locationID, from.Format(models.DateLayout), to.Format(models.DateLayout))
	if err != nil {
		return nil, eris.Wrapf(err, "storage: query forecast for %s", locationID)
	}
	defer rows.Close()

	days := make(map[string]*hourValues)
	for rows.Next() {
		var (
			day  string
			hour int
			yhat float64
		)
		if err := rows.Scan(&day, &hour, &yhat); err != nil {
			return nil, eris.Wrap(err, "storage: scan forecast row")
		}
		if hour < 0 || hour > 23 {
			continue
		}
		if days[day] == nil {
			days[day] = &hourValues{}
		}
		days[day][hour] = yhat
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "storage: iterate forecast rows")
	}

	return fillSeries(locationID, days, s.locFor(from))
}

// Upsert writes the records in a single transaction.
func (s *SQLite) Upsert(ctx context.Context, records []models.CongestionRecord) (int, error) {
	if err := validateRecords(records); err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "storage: begin transaction")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, sqliteUpsertCongestion)
	if err != nil {
		return 0, eris.Wrap(err, "storage: prepare congestion upsert")
	}
	defer stmt.Close()

	for _, r := range records {
		_, err := stmt.ExecContext(ctx,
			r.LocationID, string(r.Category), r.Date.Format(models.DateLayout), r.Hour,
			r.Label.String(), r.Population, r.UpdatedAt.UTC().Format(time.RFC3339Nano))
		if err != nil {
			return 0, eris.Wrapf(err, "storage: upsert %s %s hour %d",
				r.LocationID, r.Date.Format(models.DateLayout), r.Hour)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "storage: commit congestion upsert")
	}
	return len(records), nil
}

// SaveForecast upserts forecast observations. created_at is kept on update.
func (s *SQLite) SaveForecast(ctx context.Context, observations []models.HourlyObservation) (int, error) {
	if len(observations) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "storage: begin transaction")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, sqliteUpsertForecast)
	if err != nil {
		return 0, eris.Wrap(err, "storage: prepare forecast upsert")
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	for i := range observations {
		obs := &observations[i]
		if err := obs.Validate(); err != nil {
			return 0, eris.Wrapf(models.ErrInvalidInput, "observation %d: %v", i, err)
		}
		if _, err := stmt.ExecContext(ctx,
			obs.LocationID, obs.Date.Format(models.DateLayout), obs.Hour, obs.Count, now, now); err != nil {
			return 0, eris.Wrapf(err, "storage: upsert forecast %s %s hour %d",
				obs.LocationID, obs.Date.Format(models.DateLayout), obs.Hour)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "storage: commit forecast upsert")
	}
	return len(observations), nil
}

// ListCongestion returns stored labels ordered by location, date and hour.
func (s *SQLite) ListCongestion(ctx context.Context, q Query) ([]models.CongestionRecord, error) {
	var (
		where []string
		args  []any
	)
	if q.LocationID != "" {
		where = append(where, "location_id = ?")
		args = append(args, q.LocationID)
	}
	if !q.From.IsZero() {
		where = append(where, "date >= ?")
		args = append(args, q.From.Format(models.DateLayout))
	}
	if !q.To.IsZero() {
		where = append(where, "date <= ?")
		args = append(args, q.To.Format(models.DateLayout))
	}

	query := "SELECT location_id, category, date, hour, label, population, updated_at FROM congestion"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY location_id, date, hour"
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "storage: query congestion")
	}
	defer rows.Close()

	var records []models.CongestionRecord
	for rows.Next() {
		var (
			r                               models.CongestionRecord
			category, day, label, updatedAt string
		)
		if err := rows.Scan(&r.LocationID, &category, &day, &r.Hour, &label, &r.Population, &updatedAt); err != nil {
			return nil, eris.Wrap(err, "storage: scan congestion row")
		}
		if err := decodeRecord(&r, category, day, label, s.loc); err != nil {
			return nil, err
		}
		if r.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
			return nil, eris.Wrapf(err, "storage: parse updated_at %q", updatedAt)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "storage: iterate congestion rows")
	}
	return records, nil
}

// CountCongestion returns the number of stored congestion rows.
func (s *SQLite) CountCongestion(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM congestion").Scan(&n); err != nil {
		return 0, eris.Wrap(err, "storage: count congestion")
	}
	return n, nil
}

func (s *SQLite) locFor(t time.Time) *time.Location {
	if t.IsZero() {
		return s.loc
	}
	return t.Location()
}

// decodeRecord fills the typed fields of a record read back from SQL.
func decodeRecord(r *models.CongestionRecord, category, day, label string, loc *time.Location) error {
	var err error
	if r.Category, err = models.ParseCategory(category); err != nil {
		return eris.Wrap(err, "storage: decode category")
	}
	if r.Date, err = models.ParseDate(day, loc); err != nil {
		return eris.Wrap(err, "storage: decode date")
	}
	if r.Label, err = models.ParseLabel(label); err != nil {
		return eris.Wrap(err, "storage: decode label")
	}
	return nil
}
