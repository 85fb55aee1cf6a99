package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vincentbai/shoptrace/internal/models"
	_ "modernc.org/sqlite" // CGO-free SQLite
)

type Database struct {
	db *sql.DB
}

func NewDatabase(databasePath string) (*Database, error) {
	// WAL + busy timeout to avoid "database is locked"
	db, err := sql.Open("sqlite", databasePath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Database{db: db}, nil
}

func createTables(db *sql.DB) error {
	_, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS analytics_sessions(
	  id            TEXT    PRIMARY KEY,
	  visitor_id    TEXT    NOT NULL,
	  referrer      TEXT,
	  utm_source    TEXT,
	  utm_medium    TEXT,
	  utm_campaign  TEXT,
	  device_type   TEXT    NOT NULL CHECK (device_type IN ('mobile','tablet','desktop')),
	  screen_width  INTEGER NOT NULL,
	  screen_height INTEGER NOT NULL,
	  user_agent    TEXT    NOT NULL,
	  received_at   INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS analytics_events(
	  id          INTEGER PRIMARY KEY,
	  session_id  TEXT    NOT NULL,
	  visitor_id  TEXT    NOT NULL,
	  event_type  TEXT    NOT NULL,
	  event_data  TEXT    NOT NULL CHECK (json_valid(event_data)),
	  page_url    TEXT    NOT NULL,
	  page_title  TEXT    NOT NULL,
	  created_at  INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_events_session ON analytics_events(session_id);
	CREATE INDEX IF NOT EXISTS idx_events_type    ON analytics_events(event_type);
	CREATE INDEX IF NOT EXISTS idx_events_created ON analytics_events(created_at);
	`)
	if err != nil {
		return fmt.Errorf("failed to create database tables: %w", err)
	}
	return nil
}

func (d *Database) Close() error {
	return d.db.Close()
}

// InsertSession stores one session record. Inserts are idempotent on id.
func (d *Database) InsertSession(ctx context.Context, session models.Session) error {
	if err := session.Validate(); err != nil {
		return fmt.Errorf("invalid session: %w", err)
	}
	_, err := d.db.ExecContext(ctx, `INSERT OR IGNORE INTO analytics_sessions(
	  id, visitor_id, referrer, utm_source, utm_medium, utm_campaign,
	  device_type, screen_width, screen_height, user_agent, received_at
	) VALUES(?,?,?,?,?,?,?,?,?,?,?)`,
		session.ID, session.VisitorID, session.Referrer, session.UTMSource, session.UTMMedium, session.UTMCampaign,
		string(session.DeviceType), session.ScreenWidth, session.ScreenHeight, session.UserAgent, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}
	return nil
}

// InsertEvents stores a batch in one transaction; any invalid event rolls
// back the whole batch.
func (d *Database) InsertEvents(ctx context.Context, events []models.Event) error {
	transaction, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	statement, err := transaction.PrepareContext(ctx, `INSERT INTO analytics_events(
	  session_id, visitor_id, event_type, event_data, page_url, page_title, created_at
	) VALUES(?,?,?,json(?),?,?,?)`)
	if err != nil {
		_ = transaction.Rollback()
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer statement.Close()

	for _, event := range events {
		if err := event.Validate(); err != nil {
			_ = transaction.Rollback()
			return fmt.Errorf("invalid event: %w", err)
		}

		data := event.Data
		if data == nil {
			data = map[string]any{}
		}
		jsonData, err := json.Marshal(data)
		if err != nil {
			_ = transaction.Rollback()
			return fmt.Errorf("failed to marshal event data: %w", err)
		}
		if _, err := statement.ExecContext(ctx, event.SessionID, event.VisitorID, string(event.Type), string(jsonData),
			event.PageURL, event.PageTitle, event.CreatedAt.UnixMilli()); err != nil {
			_ = transaction.Rollback()
			return fmt.Errorf("failed to execute statement: %w", err)
		}
	}
	if err := transaction.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ListEvents returns every stored event in insertion order.
func (d *Database) ListEvents(ctx context.Context) ([]models.Event, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT session_id, visitor_id, event_type, event_data, page_url, page_title, created_at
	  FROM analytics_events ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []models.Event
	for rows.Next() {
		var (
			event     models.Event
			eventType string
			dataJSON  string
			createdAt int64
		)
		if err := rows.Scan(&event.SessionID, &event.VisitorID, &eventType, &dataJSON, &event.PageURL, &event.PageTitle, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		if err := json.Unmarshal([]byte(dataJSON), &event.Data); err != nil {
			return nil, fmt.Errorf("failed to decode event data: %w", err)
		}
		event.Type = models.EventKind(eventType)
		event.CreatedAt = time.UnixMilli(createdAt).UTC()
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate events: %w", err)
	}
	return events, nil
}
