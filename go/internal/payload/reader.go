package payload

import (
	"context"

	"github.com/google/uuid"

	"github.com/mcdev12/tixmarket/go/internal/models"
	"github.com/mcdev12/tixmarket/go/internal/sqlutil"
)

// Reader loads the entities the builders join against. Missing rows are
// reported as models.ErrNotFound.
type Reader interface {
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetTemporaryUser(ctx context.Context, id uuid.UUID) (*models.TemporaryUser, error)
	GetPushToken(ctx context.Context, id uuid.UUID) (*models.PushNotificationToken, error)

	GetOrder(ctx context.Context, id uuid.UUID) (*models.Order, error)
	ListOrderItems(ctx context.Context, orderID uuid.UUID) ([]models.OrderItem, error)
	ListOrderEvents(ctx context.Context, orderID uuid.UUID) ([]models.Event, error)
	OrderHasRefunds(ctx context.Context, orderID uuid.UUID) (bool, error)
	GetTicketType(ctx context.Context, id uuid.UUID) (*models.TicketType, error)

	GetTransfer(ctx context.Context, id uuid.UUID) (*models.Transfer, error)
	CountTransferTickets(ctx context.Context, transferID uuid.UUID) (int64, error)
	ListTransferEvents(ctx context.Context, transferID uuid.UUID) ([]models.Event, error)

	GetVenue(ctx context.Context, id uuid.UUID) (*models.Venue, error)
}

// PostgresReader implements Reader with sqlx
type PostgresReader struct {
	db sqlutil.DBTX
}

// NewPostgresReader creates a new reader
func NewPostgresReader(db sqlutil.DBTX) *PostgresReader {
	return &PostgresReader{db: db}
}

func (r *PostgresReader) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var u models.User
	err := r.db.GetContext(ctx, &u, `
		SELECT id, first_name, last_name, email, phone, created_at
		FROM users WHERE id = $1`, id)
	if err != nil {
		return nil, sqlutil.HandlePGError(err)
	}
	return &u, nil
}

func (r *PostgresReader) GetTemporaryUser(ctx context.Context, id uuid.UUID) (*models.TemporaryUser, error) {
	var tu models.TemporaryUser
	err := r.db.GetContext(ctx, &tu, `
		SELECT id, email, phone, created_at
		FROM temporary_users WHERE id = $1`, id)
	if err != nil {
		return nil, sqlutil.HandlePGError(err)
	}
	return &tu, nil
}

func (r *PostgresReader) GetPushToken(ctx context.Context, id uuid.UUID) (*models.PushNotificationToken, error) {
	var t models.PushNotificationToken
	err := r.db.GetContext(ctx, &t, `
		SELECT id, user_id, token_source, token, last_notification_at, created_at
		FROM push_notification_tokens WHERE id = $1`, id)
	if err != nil {
		return nil, sqlutil.HandlePGError(err)
	}
	return &t, nil
}

func (r *PostgresReader) GetOrder(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var o models.Order
	err := r.db.GetContext(ctx, &o, `
		SELECT id, user_id, on_behalf_of_user_id, status, paid_at, created_at
		FROM orders WHERE id = $1`, id)
	if err != nil {
		return nil, sqlutil.HandlePGError(err)
	}
	return &o, nil
}

func (r *PostgresReader) ListOrderItems(ctx context.Context, orderID uuid.UUID) ([]models.OrderItem, error) {
	var items []models.OrderItem
	err := r.db.SelectContext(ctx, &items, `
		SELECT id, order_id, item_type, ticket_type_id, event_id, unit_price_in_cents, quantity, refunded_quantity
		FROM order_items WHERE order_id = $1
		ORDER BY item_type, id`, orderID)
	return items, sqlutil.HandlePGError(err)
}

func (r *PostgresReader) ListOrderEvents(ctx context.Context, orderID uuid.UUID) ([]models.Event, error) {
	var events []models.Event
	err := r.db.SelectContext(ctx, &events, `
		SELECT DISTINCT e.id, e.organization_id, e.venue_id, e.name, e.event_start, e.event_end
		FROM events e
		JOIN order_items oi ON oi.event_id = e.id
		WHERE oi.order_id = $1
		ORDER BY e.event_start ASC`, orderID)
	return events, sqlutil.HandlePGError(err)
}

func (r *PostgresReader) OrderHasRefunds(ctx context.Context, orderID uuid.UUID) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists,
		`SELECT EXISTS (SELECT 1 FROM refunds WHERE order_id = $1)`, orderID)
	return exists, sqlutil.HandlePGError(err)
}

func (r *PostgresReader) GetTicketType(ctx context.Context, id uuid.UUID) (*models.TicketType, error) {
	var tt models.TicketType
	err := r.db.GetContext(ctx, &tt, `SELECT id, event_id, name FROM ticket_types WHERE id = $1`, id)
	if err != nil {
		return nil, sqlutil.HandlePGError(err)
	}
	return &tt, nil
}

func (r *PostgresReader) GetTransfer(ctx context.Context, id uuid.UUID) (*models.Transfer, error) {
	var t models.Transfer
	err := r.db.GetContext(ctx, &t, `
		SELECT id, transfer_key, source_user_id, destination_user_id, destination_temporary_user_id,
			status, direct, cancelled_by_user_id, transfer_message_type, transfer_address, created_at, updated_at
		FROM transfers WHERE id = $1`, id)
	if err != nil {
		return nil, sqlutil.HandlePGError(err)
	}
	return &t, nil
}

func (r *PostgresReader) CountTransferTickets(ctx context.Context, transferID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM transfer_tickets WHERE transfer_id = $1`, transferID)
	return count, sqlutil.HandlePGError(err)
}

func (r *PostgresReader) ListTransferEvents(ctx context.Context, transferID uuid.UUID) ([]models.Event, error) {
	var events []models.Event
	err := r.db.SelectContext(ctx, &events, `
		SELECT DISTINCT e.id, e.organization_id, e.venue_id, e.name, e.event_start, e.event_end
		FROM events e
		JOIN ticket_types tt ON tt.event_id = e.id
		JOIN ticket_instances ti ON ti.ticket_type_id = tt.id
		JOIN transfer_tickets x ON x.ticket_instance_id = ti.id
		WHERE x.transfer_id = $1
		ORDER BY e.event_start ASC`, transferID)
	return events, sqlutil.HandlePGError(err)
}

func (r *PostgresReader) GetVenue(ctx context.Context, id uuid.UUID) (*models.Venue, error) {
	var v models.Venue
	err := r.db.GetContext(ctx, &v, `
		SELECT id, name, address, city, state, postal_code, country, timezone
		FROM venues WHERE id = $1`, id)
	if err != nil {
		return nil, sqlutil.HandlePGError(err)
	}
	return &v, nil
}
