package eventlog

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/mcdev12/tixmarket/go/internal/models"
	"github.com/mcdev12/tixmarket/go/internal/sqlutil"
)

// Claim is a batch of events held exclusively until Commit or Rollback.
type Claim interface {
	Events() []models.DomainEvent
	Commit() error
	Rollback() error
}

// Store is what the dispatcher and auditors need from the event log.
type Store interface {
	Claim(ctx context.Context, after int64, limit int) (Claim, error)
	FindAfterSequence(ctx context.Context, after int64, limit int) ([]models.DomainEvent, error)
	FindByIDs(ctx context.Context, ids []uuid.UUID) ([]models.DomainEvent, error)
	FindByMainEntity(ctx context.Context, table models.Table, id *uuid.UUID, eventType *models.DomainEventType) ([]models.DomainEvent, error)
	CountAfterSequence(ctx context.Context, after int64) (int64, error)
}

// PostgresStore implements Store with row level SKIP LOCKED claims.
type PostgresStore struct {
	db   *sqlx.DB
	repo *Repository
	post PostProcessor
}

// NewPostgresStore creates a Store backed by db. post is applied by Append.
func NewPostgresStore(db *sqlx.DB, post PostProcessor) *PostgresStore {
	return &PostgresStore{
		db:   db,
		repo: NewRepository(db),
		post: post,
	}
}

// Append records an event in its own transaction. Callers that change state
// alongside the event should use NewWriter on their transaction instead.
func (s *PostgresStore) Append(ctx context.Context, e models.NewDomainEvent) (*models.DomainEvent, error) {
	var event *models.DomainEvent
	err := sqlutil.Run(ctx, s.db, func(tx *sqlx.Tx) *Writer {
		return NewWriter(tx, s.post)
	}, func(w *Writer) error {
		var err error
		event, err = w.Append(ctx, e)
		return err
	})
	if err != nil {
		return nil, err
	}
	return event, nil
}

// Claim opens a transaction and locks the next batch. An empty batch is
// returned with its transaction already closed.
func (s *PostgresStore) Claim(ctx context.Context, after int64, limit int) (Claim, error) {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("failed to begin claim: %w", sqlutil.HandlePGError(err))
	}

	events, err := NewRepository(tx).ClaimAfterSequence(ctx, after, limit)
	if err != nil {
		_ = tx.Rollback()
		return nil, err
	}
	if len(events) == 0 {
		_ = tx.Rollback()
		return emptyClaim{}, nil
	}
	return &pgClaim{tx: tx, events: events}, nil
}

func (s *PostgresStore) FindAfterSequence(ctx context.Context, after int64, limit int) ([]models.DomainEvent, error) {
	return s.repo.FindAfterSequence(ctx, after, limit)
}

func (s *PostgresStore) FindByIDs(ctx context.Context, ids []uuid.UUID) ([]models.DomainEvent, error) {
	return s.repo.FindByIDs(ctx, ids)
}

func (s *PostgresStore) FindByMainEntity(ctx context.Context, table models.Table, id *uuid.UUID, eventType *models.DomainEventType) ([]models.DomainEvent, error) {
	return s.repo.FindByMainEntity(ctx, table, id, eventType)
}

func (s *PostgresStore) CountAfterSequence(ctx context.Context, after int64) (int64, error) {
	return s.repo.CountAfterSequence(ctx, after)
}

type pgClaim struct {
	tx     *sqlx.Tx
	events []models.DomainEvent
}

func (c *pgClaim) Events() []models.DomainEvent { return c.events }

func (c *pgClaim) Commit() error {
	return sqlutil.HandlePGError(c.tx.Commit())
}

func (c *pgClaim) Rollback() error {
	err := c.tx.Rollback()
	if err == sql.ErrTxDone {
		return nil
	}
	return err
}

type emptyClaim struct{}

func (emptyClaim) Events() []models.DomainEvent { return nil }
func (emptyClaim) Commit() error                { return nil }
func (emptyClaim) Rollback() error              { return nil }
