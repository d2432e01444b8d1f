package settings

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"gonum.org/v1/gonum/spatial/r3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore keeps settings in a key-value table in a sqlite file.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path and migrates it to the
// latest schema.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open settings db: %w", err)
	}
	// sqlite allows one writer; keep writes serialized.
	db.SetMaxOpenConns(1)

	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func migrateUp(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to open embedded migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	// Note: m is not closed here because that would close the shared connection.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// Load reads every known key. Missing keys keep their default value.
func (s *SQLiteStore) Load(ctx context.Context) (Settings, error) {
	out := Defaults()

	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM settings`)
	if err != nil {
		return out, fmt.Errorf("failed to query settings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return Defaults(), fmt.Errorf("failed to scan setting: %w", err)
		}
		if err := out.apply(key, value); err != nil {
			return Defaults(), err
		}
	}
	if err := rows.Err(); err != nil {
		return Defaults(), fmt.Errorf("failed to read settings: %w", err)
	}
	return out, nil
}

func (st *Settings) apply(key, value string) error {
	var err error
	switch key {
	case KeyOffsetX:
		st.Offset.X, err = strconv.ParseFloat(value, 64)
	case KeyOffsetY:
		st.Offset.Y, err = strconv.ParseFloat(value, 64)
	case KeyOffsetZ:
		st.Offset.Z, err = strconv.ParseFloat(value, 64)
	case KeySound:
		st.Preferences.Sound, err = strconv.ParseBool(value)
	case KeyVibration:
		st.Preferences.Vibration, err = strconv.ParseBool(value)
	default:
		// unknown keys from newer versions are ignored
		return nil
	}
	if err != nil {
		return fmt.Errorf("setting %s=%q: %w", key, value, err)
	}
	if !finiteOffset(st.Offset) {
		return fmt.Errorf("setting %s=%q: offset must be finite", key, value)
	}
	return nil
}

func finiteOffset(v r3.Vec) bool {
	for _, c := range [3]float64{v.X, v.Y, v.Z} {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return false
		}
	}
	return true
}

func (s *SQLiteStore) put(ctx context.Context, kv map[string]string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin settings tx: %w", err)
	}
	defer tx.Rollback()

	for k, v := range kv {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO settings (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
			k, v)
		if err != nil {
			return fmt.Errorf("failed to write setting %s: %w", k, err)
		}
	}
	return tx.Commit()
}

// SaveOffset writes the three offset components atomically.
func (s *SQLiteStore) SaveOffset(ctx context.Context, offset r3.Vec) error {
	return s.put(ctx, map[string]string{
		KeyOffsetX: strconv.FormatFloat(offset.X, 'g', -1, 64),
		KeyOffsetY: strconv.FormatFloat(offset.Y, 'g', -1, 64),
		KeyOffsetZ: strconv.FormatFloat(offset.Z, 'g', -1, 64),
	})
}

// SavePreferences writes both toggles.
func (s *SQLiteStore) SavePreferences(ctx context.Context, prefs Preferences) error {
	return s.put(ctx, map[string]string{
		KeySound:     strconv.FormatBool(prefs.Sound),
		KeyVibration: strconv.FormatBool(prefs.Vibration),
	})
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
