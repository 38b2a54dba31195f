package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/rewired-gh/crowdcast/internal/models"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS forecast (
	location_id   TEXT             NOT NULL,
	forecast_date DATE             NOT NULL,
	forecast_hour SMALLINT         NOT NULL,
	yhat          DOUBLE PRECISION NOT NULL,
	created_at    TIMESTAMPTZ      NOT NULL DEFAULT now(),
	updated_at    TIMESTAMPTZ      NOT NULL DEFAULT now(),
	PRIMARY KEY (location_id, forecast_date, forecast_hour)
);
CREATE TABLE IF NOT EXISTS congestion (
	location_id TEXT             NOT NULL,
	category    TEXT             NOT NULL,
	date        DATE             NOT NULL,
	hour        SMALLINT         NOT NULL,
	label       TEXT             NOT NULL,
	population  DOUBLE PRECISION NOT NULL,
	updated_at  TIMESTAMPTZ      NOT NULL,
	PRIMARY KEY (location_id, category, date, hour)
);
CREATE INDEX IF NOT EXISTS idx_congestion_date ON congestion(date);
`

const postgresUpsertCongestion = `
INSERT INTO congestion (location_id, category, date, hour, label, population, updated_at)
VALUES ($1, $2, $3::date, $4, $5, $6, $7)
ON CONFLICT (location_id, category, date, hour) DO UPDATE SET
	label = EXCLUDED.label,
	population = EXCLUDED.population,
	updated_at = EXCLUDED.updated_at`

const postgresUpsertForecast = `
INSERT INTO forecast (location_id, forecast_date, forecast_hour, yhat)
VALUES ($1, $2::date, $3, $4)
ON CONFLICT (location_id, forecast_date, forecast_hour) DO UPDATE SET
	yhat = EXCLUDED.yhat,
	updated_at = now()`

// pool defines the minimal database pool interface used by Postgres.
type pool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// Postgres stores forecasts and congestion labels on a PostgreSQL server.
type Postgres struct {
	pool pool
	loc  *time.Location
}

// OpenPostgres connects to dsn, verifies the connection and applies the schema.
func OpenPostgres(ctx context.Context, dsn string, loc *time.Location) (*Postgres, error) {
	if dsn == "" {
		return nil, eris.New("storage: postgres dsn must not be empty")
	}

	p, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, eris.Wrap(err, "storage: connect postgres")
	}
	if err := p.Ping(ctx); err != nil {
		p.Close()
		return nil, eris.Wrap(err, "storage: ping postgres")
	}

	pg := NewPostgres(p, loc)
	if err := pg.Migrate(ctx); err != nil {
		p.Close()
		return nil, err
	}
	return pg, nil
}

// NewPostgres wraps an existing pool. The Postgres value owns the pool and
// closes it on Close.
func NewPostgres(p pool, loc *time.Location) *Postgres {
	return &Postgres{pool: p, loc: locationOrUTC(loc)}
}

// Migrate creates the forecast and congestion tables if they do not exist.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, postgresSchema); err != nil {
		return eris.Wrap(err, "storage: apply postgres schema")
	}
	return nil
}

// Close releases the pool.
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

// Series returns the stored forecast of a location in [from, to].
func (p *Postgres) Series(ctx context.Context, locationID string, from, to time.Time) ([]models.HourlyObservation, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT to_char(forecast_date, 'YYYY-MM-DD'), forecast_hour, yhat
		FROM forecast
		WHERE location_id = $1 AND forecast_date BETWEEN $2::date AND $3::date
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

	loc := p.loc
	if !from.IsZero() {
		loc = from.Location()
	}
	return fillSeries(locationID, days, loc)
}

// Upsert writes the records in a single transaction.
func (p *Postgres) Upsert(ctx context.Context, records []models.CongestionRecord) (int, error) {
	if err := validateRecords(records); err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, nil
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "storage: begin transaction")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for _, r := range records {
		_, err := tx.Exec(ctx, postgresUpsertCongestion,
			r.LocationID, string(r.Category), r.Date.Format(models.DateLayout), r.Hour,
			r.Label.String(), r.Population, r.UpdatedAt)
		if err != nil {
			return 0, eris.Wrapf(err, "storage: upsert %s %s hour %d",
				r.LocationID, r.Date.Format(models.DateLayout), r.Hour)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "storage: commit congestion upsert")
	}
	return len(records), nil
}

// SaveForecast upserts forecast observations. created_at is kept on update.
func (p *Postgres) SaveForecast(ctx context.Context, observations []models.HourlyObservation) (int, error) {
	if len(observations) == 0 {
		return 0, nil
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "storage: begin transaction")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for i := range observations {
		obs := &observations[i]
		if err := obs.Validate(); err != nil {
			return 0, eris.Wrapf(models.ErrInvalidInput, "observation %d: %v", i, err)
		}
		if _, err := tx.Exec(ctx, postgresUpsertForecast,
			obs.LocationID, obs.Date.Format(models.DateLayout), obs.Hour, obs.Count); err != nil {
			return 0, eris.Wrapf(err, "storage: upsert forecast %s %s hour %d",
				obs.LocationID, obs.Date.Format(models.DateLayout), obs.Hour)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "storage: commit forecast upsert")
	}
	return len(observations), nil
}

// ListCongestion returns stored labels ordered by location, date and hour.
func (p *Postgres) ListCongestion(ctx context.Context, q Query) ([]models.CongestionRecord, error) {
	var (
		where []string
		args  []any
	)
	if q.LocationID != "" {
		args = append(args, q.LocationID)
		where = append(where, fmt.Sprintf("location_id = $%d", len(args)))
	}
	if !q.From.IsZero() {
		args = append(args, q.From.Format(models.DateLayout))
		where = append(where, fmt.Sprintf("date >= $%d::date", len(args)))
	}
	if !q.To.IsZero() {
		args = append(args, q.To.Format(models.DateLayout))
		where = append(where, fmt.Sprintf("date <= $%d::date", len(args)))
	}

	query := "SELECT location_id, category, to_char(date, 'YYYY-MM-DD'), hour, label, population, updated_at FROM congestion"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY location_id, date, hour"
	if q.Limit > 0 {
		args = append(args, q.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "storage: query congestion")
	}
	defer rows.Close()

	var records []models.CongestionRecord
	for rows.Next() {
		var (
			r                    models.CongestionRecord
			category, day, label string
		)
		if err := rows.Scan(&r.LocationID, &category, &day, &r.Hour, &label, &r.Population, &r.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "storage: scan congestion row")
		}
		if err := decodeRecord(&r, category, day, label, p.loc); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "storage: iterate congestion rows")
	}
	return records, nil
}

// CountCongestion returns the number of stored congestion rows.
func (p *Postgres) CountCongestion(ctx context.Context) (int, error) {
	var n int
	if err := p.pool.QueryRow(ctx, "SELECT COUNT(*) FROM congestion").Scan(&n); err != nil {
		return 0, eris.Wrap(err, "storage: count congestion")
	}
	return n, nil
}
