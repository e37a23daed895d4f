package interactions

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mcdev12/tixmarket/go/internal/models"
	"github.com/mcdev12/tixmarket/go/internal/sqlutil"
)

// Queries is what the logger reads and writes inside the appending transaction.
type Queries interface {
	EventOrganizationID(ctx context.Context, eventID uuid.UUID) (uuid.UUID, error)
	GetOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	OrderOrganizationIDs(ctx context.Context, orderID uuid.UUID) ([]uuid.UUID, error)
	TicketOrganizationAndOwner(ctx context.Context, ticketInstanceID uuid.UUID) (orgID uuid.UUID, ownerID *uuid.UUID, err error)
	GetTransfer(ctx context.Context, transferID uuid.UUID) (*models.Transfer, error)
	TransferOrganizationIDs(ctx context.Context, transferID uuid.UUID) ([]uuid.UUID, error)
	LogInteraction(ctx context.Context, orgID, userID uuid.UUID, at time.Time) error
	LinkTemporaryUser(ctx context.Context, temporaryUserID, userID uuid.UUID) error
}

// Repository implements Queries with sqlx
type Repository struct {
	db sqlutil.DBTX
}

// NewRepository creates a new interactions repository
func NewRepository(db sqlutil.DBTX) *Repository {
	return &Repository{db: db}
}

func (r *Repository) EventOrganizationID(ctx context.Context, eventID uuid.UUID) (uuid.UUID, error) {
	var orgID uuid.UUID
	err := r.db.GetContext(ctx, &orgID, `SELECT organization_id FROM events WHERE id = $1`, eventID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to get event organization: %w", sqlutil.HandlePGError(err))
	}
	return orgID, nil
}

func (r *Repository) GetOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	var o models.Order
	err := r.db.GetContext(ctx, &o, `
		SELECT id, user_id, on_behalf_of_user_id, status, paid_at, created_at
		FROM orders WHERE id = $1`, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", sqlutil.HandlePGError(err))
	}
	return &o, nil
}

func (r *Repository) OrderOrganizationIDs(ctx context.Context, orderID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.SelectContext(ctx, &ids, `
		SELECT DISTINCT e.organization_id
		FROM order_items oi
		JOIN events e ON e.id = oi.event_id
		WHERE oi.order_id = $1`, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to list order organizations: %w", sqlutil.HandlePGError(err))
	}
	return ids, nil
}

func (r *Repository) TicketOrganizationAndOwner(ctx context.Context, ticketInstanceID uuid.UUID) (uuid.UUID, *uuid.UUID, error) {
	var row struct {
		OrganizationID uuid.UUID     `db:"organization_id"`
		OwnerID        uuid.NullUUID `db:"owner_id"`
	}
	err := r.db.GetContext(ctx, &row, `
		SELECT e.organization_id, w.user_id AS owner_id
		FROM ticket_instances ti
		JOIN ticket_types tt ON tt.id = ti.ticket_type_id
		JOIN events e ON e.id = tt.event_id
		LEFT JOIN wallets w ON w.id = ti.wallet_id
		WHERE ti.id = $1`, ticketInstanceID)
	if err != nil {
		return uuid.Nil, nil, fmt.Errorf("failed to get ticket organization: %w", sqlutil.HandlePGError(err))
	}
	return row.OrganizationID, sqlutil.FromNullUUID(row.OwnerID), nil
}

func (r *Repository) GetTransfer(ctx context.Context, transferID uuid.UUID) (*models.Transfer, error) {
	var t models.Transfer
	err := r.db.GetContext(ctx, &t, `
		SELECT id, transfer_key, source_user_id, destination_user_id, destination_temporary_user_id,
			status, direct, cancelled_by_user_id, transfer_message_type, transfer_address, created_at, updated_at
		FROM transfers WHERE id = $1`, transferID)
	if err != nil {
		return nil, fmt.Errorf("failed to get transfer: %w", sqlutil.HandlePGError(err))
	}
	return &t, nil
}

func (r *Repository) TransferOrganizationIDs(ctx context.Context, transferID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.SelectContext(ctx, &ids, `
		SELECT DISTINCT e.organization_id
		FROM transfer_tickets x
		JOIN ticket_instances ti ON ti.id = x.ticket_instance_id
		JOIN ticket_types tt ON tt.id = ti.ticket_type_id
		JOIN events e ON e.id = tt.event_id
		WHERE x.transfer_id = $1`, transferID)
	if err != nil {
		return nil, fmt.Errorf("failed to list transfer organizations: %w", sqlutil.HandlePGError(err))
	}
	return ids, nil
}

// LogInteraction upserts the (organization, user) counter.
func (r *Repository) LogInteraction(ctx context.Context, orgID, userID uuid.UUID, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO organization_interactions (organization_id, user_id, first_interaction, last_interaction, interaction_count)
		VALUES ($1, $2, $3, $3, 1)
		ON CONFLICT (organization_id, user_id) DO UPDATE SET
			first_interaction = LEAST(organization_interactions.first_interaction, EXCLUDED.first_interaction),
			last_interaction = GREATEST(organization_interactions.last_interaction, EXCLUDED.last_interaction),
			interaction_count = organization_interactions.interaction_count + 1`,
		orgID, userID, at)
	if err != nil {
		return fmt.Errorf("failed to log interaction: %w", sqlutil.HandlePGError(err))
	}
	return nil
}

func (r *Repository) LinkTemporaryUser(ctx context.Context, temporaryUserID, userID uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO temporary_user_links (temporary_user_id, user_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING`, temporaryUserID, userID)
	if err != nil {
		return fmt.Errorf("failed to link temporary user: %w", sqlutil.HandlePGError(err))
	}
	return nil
}

// Find returns the interaction row, mainly for reporting.
func (r *Repository) Find(ctx context.Context, orgID, userID uuid.UUID) (*models.OrganizationInteraction, error) {
	var oi models.OrganizationInteraction
	err := r.db.GetContext(ctx, &oi, `
		SELECT organization_id, user_id, first_interaction, last_interaction, interaction_count
		FROM organization_interactions WHERE organization_id = $1 AND user_id = $2`, orgID, userID)
	if err != nil {
		return nil, sqlutil.HandlePGError(err)
	}
	return &oi, nil
}
