// Package archive persists admin snapshots of relay state to PostgreSQL.
// Live chat state never touches the database; only explicit exports do.
package archive

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"

	"github.com/globalchat/chat-relay/internal/moderation"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Store writes snapshots to the relay_snapshots table.
type Store struct {
	db     *sql.DB
	server string
}

// Entry is one archived snapshot row.
type Entry struct {
	ID       int64
	Server   string
	TakenAt  time.Time
	Snapshot moderation.Snapshot
}

// Open connects to url, applies pending migrations and returns a ready store.
// server tags every row written through it.
func Open(ctx context.Context, url, server string) (*Store, error) {
	if err := Migrate(url); err != nil {
		return nil, err
	}

	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("archive: open: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("archive: ping: %w", err)
	}
	return &Store{db: db, server: server}, nil
}

// Migrate applies the embedded schema migrations. It uses its own
// connection, which the migrator closes when done.
func Migrate(url string) error {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("archive: migration source: %w", err)
	}
	db, err := sql.Open("postgres", url)
	if err != nil {
		return fmt.Errorf("archive: open: %w", err)
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		db.Close()
		return fmt.Errorf("archive: migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		driver.Close()
		return fmt.Errorf("archive: migrator: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("archive: migrate up: %w", err)
	}
	version, dirty, _ := m.Version()
	log.Printf("archive: schema at version %d (dirty=%v)", version, dirty)
	return nil
}

// Save inserts one snapshot. The full snapshot is stored as JSONB next to
// a few summary columns for querying.
func (s *Store) Save(ctx context.Context, snap moderation.Snapshot) error {
	body, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("archive: marshal snapshot: %w", err)
	}

	const query = `
		INSERT INTO relay_snapshots (server, taken_at, online_users, total_messages, pending_reports, snapshot)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err = s.db.ExecContext(ctx, query,
		s.server,
		snap.TakenAt,
		snap.Stats.OnlineUsers,
		snap.Stats.TotalMessages,
		snap.Stats.PendingReports,
		body,
	)
	if err != nil {
		return fmt.Errorf("archive: insert: %w", err)
	}
	return nil
}

// Latest returns up to limit snapshots, newest first.
func (s *Store) Latest(ctx context.Context, limit int) ([]Entry, error) {
	const query = `
		SELECT id, server, taken_at, snapshot
		FROM relay_snapshots
		ORDER BY taken_at DESC, id DESC
		LIMIT $1`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("archive: query latest: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e    Entry
			body []byte
		)
		if err := rows.Scan(&e.ID, &e.Server, &e.TakenAt, &body); err != nil {
			return nil, fmt.Errorf("archive: scan: %w", err)
		}
		if err := json.Unmarshal(body, &e.Snapshot); err != nil {
			return nil, fmt.Errorf("archive: decode snapshot %d: %w", e.ID, err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("archive: rows: %w", err)
	}
	return entries, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}
