package eventlog

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/mcdev12/tixmarket/go/internal/models"
	"github.com/mcdev12/tixmarket/go/internal/sqlutil"
)

const eventColumns = `id, seq, event_type, display_text, event_data, main_table, main_id, user_id, organization_id, created_at`

// appendLockKey serializes appends until commit so sequence order matches commit order.
const appendLockKey = 0x646f6d6576656e74

// Repository implements domain event data access on top of a connection or a transaction.
type Repository struct {
	db sqlutil.DBTX
}

// NewRepository creates a new domain event repository
func NewRepository(db sqlutil.DBTX) *Repository {
	return &Repository{db: db}
}

// Insert stores a new event and returns the persisted row with its sequence.
func (r *Repository) Insert(ctx context.Context, e models.NewDomainEvent) (*models.DomainEvent, error) {
	if _, err := r.db.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(appendLockKey)); err != nil {
		return nil, fmt.Errorf("failed to acquire append lock: %w", sqlutil.HandlePGError(err))
	}

	var event models.DomainEvent
	err := r.db.QueryRowxContext(ctx, `
		INSERT INTO domain_events (id, event_type, display_text, event_data, main_table, main_id, user_id, organization_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+eventColumns,
		uuid.New(),
		e.EventType,
		e.DisplayText,
		sqlutil.ToNullRawMessage(e.PayloadData),
		e.MainTable,
		sqlutil.ToNullUUID(e.MainID),
		sqlutil.ToNullUUID(e.ActorUserID),
		sqlutil.ToNullUUID(e.OrganizationID),
	).StructScan(&event)
	if err != nil {
		return nil, fmt.Errorf("failed to insert domain event: %w", sqlutil.HandlePGError(err))
	}
	return &event, nil
}

// ClaimAfterSequence locks up to limit events past after, skipping rows another
// transaction already holds. It must run inside a transaction.
func (r *Repository) ClaimAfterSequence(ctx context.Context, after int64, limit int) ([]models.DomainEvent, error) {
	var events []models.DomainEvent
	err := r.db.SelectContext(ctx, &events, `
		SELECT `+eventColumns+`
		FROM domain_events
		WHERE seq > $1
		ORDER BY seq ASC
		LIMIT $2
		FOR UPDATE SKIP LOCKED`, after, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to claim domain events: %w", sqlutil.HandlePGError(err))
	}
	return events, nil
}

// FindAfterSequence reads events past after without locking.
func (r *Repository) FindAfterSequence(ctx context.Context, after int64, limit int) ([]models.DomainEvent, error) {
	var events []models.DomainEvent
	err := r.db.SelectContext(ctx, &events, `
		SELECT `+eventColumns+`
		FROM domain_events
		WHERE seq > $1
		ORDER BY seq ASC
		LIMIT $2`, after, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to find domain events: %w", sqlutil.HandlePGError(err))
	}
	return events, nil
}

// FindByIDs returns the matching events ordered by creation time.
func (r *Repository) FindByIDs(ctx context.Context, ids []uuid.UUID) ([]models.DomainEvent, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(`
		SELECT `+eventColumns+`
		FROM domain_events
		WHERE id IN (?)
		ORDER BY created_at ASC, seq ASC`, sqlutil.UUIDStrings(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	var events []models.DomainEvent
	if err := r.db.SelectContext(ctx, &events, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to find domain events by id: %w", sqlutil.HandlePGError(err))
	}
	return events, nil
}

// FindByMainEntity returns the events about one entity, optionally filtered by type.
func (r *Repository) FindByMainEntity(ctx context.Context, table models.Table, id *uuid.UUID, eventType *models.DomainEventType) ([]models.DomainEvent, error) {
	var events []models.DomainEvent
	err := r.db.SelectContext(ctx, &events, `
		SELECT `+eventColumns+`
		FROM domain_events
		WHERE main_table = $1
		  AND main_id IS NOT DISTINCT FROM $2
		  AND ($3::text IS NULL OR event_type = $3)
		ORDER BY created_at ASC, seq ASC`,
		table, sqlutil.ToNullUUID(id), eventTypeArg(eventType))
	if err != nil {
		return nil, fmt.Errorf("failed to find domain events by entity: %w", sqlutil.HandlePGError(err))
	}
	return events, nil
}

// CountAfterSequence reports how many events lie past after.
func (r *Repository) CountAfterSequence(ctx context.Context, after int64) (int64, error) {
	var count int64
	err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM domain_events WHERE seq > $1`, after)
	if err != nil {
		return 0, fmt.Errorf("failed to count domain events: %w", sqlutil.HandlePGError(err))
	}
	return count, nil
}

func eventTypeArg(t *models.DomainEventType) interface{} {
	if t == nil {
		return nil
	}
	return string(*t)
}
