package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/i474232898/weather-city-sync/internal/common"
	"github.com/i474232898/weather-city-sync/internal/weather"
)

// Supported database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

const favoriteIDsKey = "favorite_city_ids"

var cityColumns = []string{
	"id", "name", "country", "lat", "lon",
	"last_updated", "temperature", "temperature_min", "temperature_max",
	"humidity", "wind_speed", "condition_text", "icon", "position",
}

// SQLStore persists cities and the favorite set through database/sql.
// It works against SQLite (modernc.org/sqlite) and Postgres (lib/pq).
type SQLStore struct {
	db   *sql.DB
	psql sq.StatementBuilderType
	work workingSet
}

var (
	_ weather.CityStore      = (*SQLStore)(nil)
	_ weather.FavoritesStore = (*SQLStore)(nil)
)

// OpenSQL opens the database for driver and ensures the schema exists.
func OpenSQL(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	var (
		db  *sql.DB
		err error
	)

	builder := sq.StatementBuilder
	switch driver {
	case DriverSQLite:
		if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
		db, err = sql.Open("sqlite", fmt.Sprintf("file:%s?_pragma=foreign_keys(ON)", dsn))
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		db.SetMaxOpenConns(1)
		db.SetConnMaxLifetime(0)
		db.SetConnMaxIdleTime(5 * time.Minute)
		builder = builder.PlaceholderFormat(sq.Question)
	case DriverPostgres:
		db, err = sql.Open("postgres", dsn)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		builder = builder.PlaceholderFormat(sq.Dollar)
	default:
		return nil, fmt.Errorf("unsupported store driver %q", driver)
	}

	s := &SQLStore{db: db, psql: builder}
	if err := s.InitSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *SQLStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// InitSchema ensures the tables exist.
func (s *SQLStore) InitSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS cities (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			country TEXT,
			lat DOUBLE PRECISION NOT NULL,
			lon DOUBLE PRECISION NOT NULL,
			last_updated TEXT,
			temperature DOUBLE PRECISION,
			temperature_min DOUBLE PRECISION,
			temperature_max DOUBLE PRECISION,
			humidity INTEGER,
			wind_speed DOUBLE PRECISION,
			condition_text TEXT,
			icon TEXT,
			position INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE TABLE IF NOT EXISTS app_config (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// LoadAll returns the working copies, reading them from the database on first use.
func (s *SQLStore) LoadAll(ctx context.Context) ([]*weather.City, error) {
	s.work.mu.Lock()
	defer s.work.mu.Unlock()

	if !s.work.loaded {
		cities, err := s.queryCities(ctx)
		if err != nil {
			return nil, err
		}
		// Keep anything staged before the first successful load.
		seen := make(map[string]bool, len(cities))
		for _, c := range cities {
			seen[c.ID] = true
		}
		for _, c := range s.work.cities {
			if !seen[c.ID] {
				cities = append(cities, c)
			}
		}
		s.work.cities = cities
		s.work.loaded = true
	}
	return s.work.snapshot(), nil
}

// Insert stages a new city.
func (s *SQLStore) Insert(city *weather.City) {
	s.ensureLoaded()
	s.work.insert(city)
}

// Delete stages removal of the city with the given id.
func (s *SQLStore) Delete(id string) error {
	s.ensureLoaded()
	return s.work.remove(id)
}

// Commit writes every working copy and staged deletion in one transaction.
// On failure the working set keeps its pending changes.
func (s *SQLStore) Commit(ctx context.Context) error {
	s.work.mu.Lock()
	defer s.work.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin commit: %w", err)
	}
	defer tx.Rollback()

	if len(s.work.deleted) > 0 {
		query, args, err := s.psql.Delete("cities").Where(sq.Eq{"id": s.work.deleted}).ToSql()
		if err != nil {
			return fmt.Errorf("build delete: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("delete cities: %w", err)
		}
	}

	for i, c := range s.work.cities {
		query, args, err := s.psql.Insert("cities").
			Columns(cityColumns...).
			Values(
				c.ID, c.Name, nullString(c.Country), c.Lat, c.Lon,
				nullTime(c.LastUpdated), c.Temperature, c.TemperatureMin, c.TemperatureMax,
				c.Humidity, c.WindSpeed, c.Condition, c.Icon, i,
			).
			Suffix(`ON CONFLICT (id) DO UPDATE SET
				name = excluded.name,
				country = excluded.country,
				lat = excluded.lat,
				lon = excluded.lon,
				last_updated = excluded.last_updated,
				temperature = excluded.temperature,
				temperature_min = excluded.temperature_min,
				temperature_max = excluded.temperature_max,
				humidity = excluded.humidity,
				wind_speed = excluded.wind_speed,
				condition_text = excluded.condition_text,
				icon = excluded.icon,
				position = excluded.position`).
			ToSql()
		if err != nil {
			return fmt.Errorf("build upsert: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("upsert city %s: %w", c.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit cities: %w", err)
	}
	s.work.deleted = nil
	return nil
}

// FavoriteIDs returns the persisted favorite set, or nil if none was saved.
func (s *SQLStore) FavoriteIDs(ctx context.Context) ([]int, error) {
	query, args, err := s.psql.Select("value").From("app_config").Where(sq.Eq{"key": favoriteIDsKey}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build favorites query: %w", err)
	}

	var raw string
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get favorite ids: %w", err)
	}
	return common.ParseIDs(raw), nil
}

// SaveFavoriteIDs stores ids as a comma-separated list.
func (s *SQLStore) SaveFavoriteIDs(ctx context.Context, ids []int) error {
	query, args, err := s.psql.Insert("app_config").
		Columns("key", "value", "updated_at").
		Values(favoriteIDsKey, common.JoinIDs(ids), time.Now().UTC().Format(time.RFC3339Nano)).
		Suffix("ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("build favorites upsert: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("save favorite ids: %w", err)
	}
	return nil
}

func (s *SQLStore) queryCities(ctx context.Context) ([]*weather.City, error) {
	query, args, err := s.psql.Select(cityColumns...).From("cities").OrderBy("position ASC", "id ASC").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build cities query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query cities: %w", err)
	}
	defer rows.Close()

	var cities []*weather.City
	for rows.Next() {
		var (
			c           weather.City
			country     sql.NullString
			lastUpdated sql.NullString
			temp        sql.NullFloat64
			tempMin     sql.NullFloat64
			tempMax     sql.NullFloat64
			humidity    sql.NullInt64
			wind        sql.NullFloat64
			condition   sql.NullString
			icon        sql.NullString
			position    int
		)
		if err := rows.Scan(
			&c.ID, &c.Name, &country, &c.Lat, &c.Lon,
			&lastUpdated, &temp, &tempMin, &tempMax,
			&humidity, &wind, &condition, &icon, &position,
		); err != nil {
			return nil, fmt.Errorf("scan city: %w", err)
		}

		c.Country = country.String
		if lastUpdated.Valid {
			ts, err := time.Parse(time.RFC3339Nano, lastUpdated.String)
			if err != nil {
				return nil, fmt.Errorf("parse last_updated for %s: %w", c.ID, err)
			}
			c.LastUpdated = &ts
		}
		c.Temperature = floatPtr(temp)
		c.TemperatureMin = floatPtr(tempMin)
		c.TemperatureMax = floatPtr(tempMax)
		if humidity.Valid {
			h := int(humidity.Int64)
			c.Humidity = &h
		}
		c.WindSpeed = floatPtr(wind)
		c.Condition = stringPtr(condition)
		c.Icon = stringPtr(icon)

		cities = append(cities, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cities: %w", err)
	}
	return cities, nil
}

// ensureLoaded loads the working set before staging. A failed load is
// ignored here: staged changes are merged in on the next successful load and
// Commit surfaces database problems.
func (s *SQLStore) ensureLoaded() {
	_, _ = s.LoadAll(context.Background())
}

func nullString(v string) sql.NullString {
	if v == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: v, Valid: true}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339Nano), Valid: true}
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func stringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	str := v.String
	return &str
}
