package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"studysched/internal/schedule"
	logx "studysched/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer; one connection also keeps ":memory:"
	// databases alive across calls.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	log.Debug("sqlite store opened", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Persisted(ctx context.Context, healthID string, now time.Time) ([]schedule.ScheduledActivity, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT body FROM scheduled_activities
		 WHERE health_id = ? AND hides_after > ?
		 ORDER BY scheduled_on, guid`,
		healthID, now.UnixMilli(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []schedule.ScheduledActivity
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		a, err := decodeActivity([]byte(body))
		if err != nil {
			return nil, fmt.Errorf("decode scheduled activity: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *sqliteStore) Get(ctx context.Context, healthID, guid string) (schedule.ScheduledActivity, error) {
	if s == nil || s.db == nil {
		return schedule.ScheduledActivity{}, ErrDisabled
	}
	var body string
	err := s.db.QueryRowContext(ctx,
		`SELECT body FROM scheduled_activities WHERE health_id = ? AND guid = ?`,
		healthID, guid,
	).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return schedule.ScheduledActivity{}, ErrNotFound
	}
	if err != nil {
		return schedule.ScheduledActivity{}, err
	}
	return decodeActivity([]byte(body))
}

// sqliteGetManyChunk keeps IN lists well under SQLite's bound parameter limit.
const sqliteGetManyChunk = 500

func (s *sqliteStore) GetMany(ctx context.Context, healthID string, guids []string) ([]schedule.ScheduledActivity, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	byGUID := make(map[string]schedule.ScheduledActivity, len(guids))
	for start := 0; start < len(guids); start += sqliteGetManyChunk {
		chunk := guids[start:min(start+sqliteGetManyChunk, len(guids))]
		args := make([]any, 0, len(chunk)+1)
		args = append(args, healthID)
		for _, g := range chunk {
			args = append(args, g)
		}
		rows, err := s.db.QueryContext(ctx,
			`SELECT guid, body FROM scheduled_activities
			 WHERE health_id = ? AND guid IN (?`+strings.Repeat(",?", len(chunk)-1)+`)`,
			args...,
		)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			var guid, body string
			if err := rows.Scan(&guid, &body); err != nil {
				rows.Close()
				return nil, err
			}
			a, err := decodeActivity([]byte(body))
			if err != nil {
				rows.Close()
				return nil, fmt.Errorf("decode scheduled activity %s: %w", guid, err)
			}
			byGUID[guid] = a
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, err
		}
	}
	var out []schedule.ScheduledActivity
	for _, g := range guids {
		if a, ok := byGUID[g]; ok {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *sqliteStore) Save(ctx context.Context, acts []schedule.ScheduledActivity) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if len(acts) == 0 {
		return nil
	}
	return s.inTx(ctx, "save", acts, func(tx *sql.Tx, a schedule.ScheduledActivity) error {
		if err := checkKey(a); err != nil {
			return err
		}
		body, err := encodeActivity(a)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO scheduled_activities(health_id, guid, scheduled_on, hides_after, body)
			 VALUES(?,?,?,?,?)
			 ON CONFLICT(health_id, guid) DO UPDATE SET
			   scheduled_on = excluded.scheduled_on,
			   hides_after = excluded.hides_after,
			   body = excluded.body`,
			a.HealthID, a.GUID, a.ScheduledOn().UnixMilli(), a.HidesAfter().UnixMilli(), string(body),
		)
		return err
	})
}

func (s *sqliteStore) Delete(ctx context.Context, acts []schedule.ScheduledActivity) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if len(acts) == 0 {
		return nil
	}
	return s.inTx(ctx, "delete", acts, func(tx *sql.Tx, a schedule.ScheduledActivity) error {
		_, err := tx.ExecContext(ctx,
			`DELETE FROM scheduled_activities WHERE health_id = ? AND guid = ?`,
			a.HealthID, a.GUID,
		)
		return err
	})
}

// inTx applies fn to every instance in one transaction. Instances fn rejects
// are reported in a *BatchError; the others are committed.
func (s *sqliteStore) inTx(ctx context.Context, op string, acts []schedule.ScheduledActivity, fn func(*sql.Tx, schedule.ScheduledActivity) error) error {
	b := batch{op: op}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		b.failAll(acts, err)
		return b.err()
	}
	for _, a := range acts {
		if err := fn(tx, a); err != nil {
			b.fail(a.GUID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		b.failures = nil
		b.failAll(acts, err)
		return b.err()
	}
	if len(b.failures) > 0 {
		s.log.Warn("sqlite batch partially failed", logx.String("op", op), logx.Int("failed", len(b.failures)), logx.Int("total", len(acts)))
	}
	return b.err()
}

func (s *sqliteStore) EventMap(ctx context.Context, healthID string) (map[string]time.Time, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx, `SELECT event_id, at FROM events WHERE health_id = ?`, healthID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]time.Time{}
	for rows.Next() {
		var (
			id string
			ms int64
		)
		if err := rows.Scan(&id, &ms); err != nil {
			return nil, err
		}
		out[id] = time.UnixMilli(ms).UTC()
	}
	return out, rows.Err()
}

func (s *sqliteStore) PutEvent(ctx context.Context, healthID, eventID string, at time.Time) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	healthID, eventID = strings.TrimSpace(healthID), strings.TrimSpace(eventID)
	if healthID == "" || eventID == "" {
		return errMissingEventKey
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events(health_id, event_id, at) VALUES(?,?,?)
		 ON CONFLICT(health_id, event_id) DO UPDATE SET at = excluded.at`,
		healthID, eventID, at.UTC().UnixMilli(),
	)
	return err
}
