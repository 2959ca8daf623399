package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"booking-service/internal/apperr"
	"booking-service/internal/models"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

//go:embed migrations/001_init.sql
var schemaSQL string

// Store is the PostgreSQL Repository. A Store returned to a WithTx callback
// runs every statement on the open transaction.
type Store struct {
	db  *sqlx.DB
	ext sqlx.ExtContext
	tx  *sqlx.Tx
}

var _ Repository = (*Store)(nil)

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return NewStoreWithDB(db), nil
}

// NewStoreWithDB wraps an existing connection pool
func NewStoreWithDB(db *sqlx.DB) *Store {
	return &Store{db: db, ext: db}
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Migrate applies the embedded schema. Statements are idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// WithTx runs fn in a transaction, committing when fn returns nil.
// Nested calls join the outer transaction.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, repo Repository) error) error {
	if s.tx != nil {
		return fn(ctx, s)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(ctx, &Store{db: s.db, ext: tx, tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// lockClause takes a row lock when running inside a transaction
func (s *Store) lockClause() string {
	if s.tx != nil {
		return " FOR UPDATE"
	}
	return ""
}

// CreateEvent inserts an event with its ticket types
func (s *Store) CreateEvent(ctx context.Context, event *models.Event) error {
	return s.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		tx := repo.(*Store)
		_, err := sqlx.NamedExecContext(ctx, tx.ext, `
			INSERT INTO events (id, title, start_date, end_date, status, created_at, updated_at)
			VALUES (:id, :title, :start_date, :end_date, :status, :created_at, :updated_at)`, event)
		if err != nil {
			return fmt.Errorf("failed to insert event: %w", err)
		}

		for _, tt := range event.TicketTypes {
			_, err := tx.ext.ExecContext(ctx,
				"INSERT INTO ticket_types (event_id, category, price, quantity, sold) VALUES ($1, $2, $3, $4, $5)",
				event.ID, tt.Category, tt.Price, tt.Quantity, tt.Sold)
			if err != nil {
				return fmt.Errorf("failed to insert ticket type %s: %w", tt.Category, err)
			}
		}
		return nil
	})
}

// GetEvent retrieves an event and its ticket types
func (s *Store) GetEvent(ctx context.Context, id string) (*models.Event, error) {
	var event models.Event
	err := sqlx.GetContext(ctx, s.ext, &event,
		"SELECT id, title, start_date, end_date, status, created_at, updated_at FROM events WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("event %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get event: %w", err)
	}

	err = sqlx.SelectContext(ctx, s.ext, &event.TicketTypes,
		"SELECT event_id, category, price, quantity, sold FROM ticket_types WHERE event_id = $1 ORDER BY category", id)
	if err != nil {
		return nil, fmt.Errorf("failed to get ticket types: %w", err)
	}
	return &event, nil
}

// GetTicketType retrieves one ledger row, locked when inside a transaction
func (s *Store) GetTicketType(ctx context.Context, eventID, category string) (*models.TicketType, error) {
	var tt models.TicketType
	err := sqlx.GetContext(ctx, s.ext, &tt,
		"SELECT event_id, category, price, quantity, sold FROM ticket_types WHERE event_id = $1 AND category = $2"+s.lockClause(),
		eventID, category)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("ticket type %s not found on event %s", category, eventID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ticket type: %w", err)
	}
	return &tt, nil
}

func (s *Store) IncrementSold(ctx context.Context, eventID, category string, quantity int) (bool, error) {
	res, err := s.ext.ExecContext(ctx,
		"UPDATE ticket_types SET sold = sold + $1 WHERE event_id = $2 AND category = $3 AND sold + $1 <= quantity",
		quantity, eventID, category)
	if err != nil {
		return false, fmt.Errorf("failed to increment sold: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func rowsAffected(res sql.Result, err error) (int64, error) {
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
