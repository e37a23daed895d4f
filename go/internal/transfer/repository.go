package transfer

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/mcdev12/tixmarket/go/internal/eventlog"
	"github.com/mcdev12/tixmarket/go/internal/models"
	"github.com/mcdev12/tixmarket/go/internal/sqlutil"
	"github.com/mcdev12/tixmarket/go/internal/wallets"
)

const transferColumns = `t.id, t.transfer_key, t.source_user_id, t.destination_user_id, t.destination_temporary_user_id,
	t.status, t.direct, t.cancelled_by_user_id, t.transfer_message_type, t.transfer_address, t.created_at, t.updated_at`

// PostgresStore implements Store on top of sqlx.
type PostgresStore struct {
	db   *sqlx.DB
	post eventlog.PostProcessor
}

// NewPostgresStore creates a Store. post runs for every event the transfer flow appends.
func NewPostgresStore(db *sqlx.DB, post eventlog.PostProcessor) *PostgresStore {
	return &PostgresStore{db: db, post: post}
}

func (s *PostgresStore) Queries() Queries {
	return NewRepository(s.db, s.post)
}

func (s *PostgresStore) InTx(ctx context.Context, fn func(q Queries) error) error {
	return sqlutil.Run(ctx, s.db, func(tx *sqlx.Tx) *Repository {
		return NewRepository(tx, s.post)
	}, func(r *Repository) error {
		return fn(r)
	})
}

// Repository implements Queries against one connection or transaction
type Repository struct {
	db      sqlutil.DBTX
	events  *eventlog.Writer
	wallets *wallets.Repository
}

// NewRepository creates a new transfer repository
func NewRepository(db sqlutil.DBTX, post eventlog.PostProcessor) *Repository {
	return &Repository{
		db:      db,
		events:  eventlog.NewWriter(db, post),
		wallets: wallets.NewRepository(db),
	}
}

func (r *Repository) InsertTransfer(ctx context.Context, t *models.Transfer) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO transfers (id, transfer_key, source_user_id, destination_user_id, destination_temporary_user_id,
			status, direct, cancelled_by_user_id, transfer_message_type, transfer_address, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		t.ID, t.TransferKey, t.SourceUserID,
		sqlutil.ToNullUUID(t.DestinationUserID), sqlutil.ToNullUUID(t.DestinationTemporaryUserID),
		t.Status, t.Direct, sqlutil.ToNullUUID(t.CancelledByUserID),
		messageTypeArg(t.TransferMessageType), sqlutil.ToSqlString(t.TransferAddress),
		t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		if sqlutil.IsUniqueViolation(err, "transfers_transfer_key_key") {
			return fmt.Errorf("%w: %s", ErrDuplicateTransferKey, t.TransferKey)
		}
		return fmt.Errorf("failed to create transfer: %w", sqlutil.HandlePGError(err))
	}
	return nil
}

func (r *Repository) GetTransfer(ctx context.Context, id uuid.UUID) (*models.Transfer, error) {
	return r.getTransfer(ctx, `SELECT `+transferColumns+` FROM transfers t WHERE t.id = $1`, id)
}

func (r *Repository) GetTransferForUpdate(ctx context.Context, id uuid.UUID) (*models.Transfer, error) {
	return r.getTransfer(ctx, `SELECT `+transferColumns+` FROM transfers t WHERE t.id = $1 FOR UPDATE`, id)
}

func (r *Repository) GetTransferByKey(ctx context.Context, key uuid.UUID) (*models.Transfer, error) {
	return r.getTransfer(ctx, `SELECT `+transferColumns+` FROM transfers t WHERE t.transfer_key = $1`, key)
}

func (r *Repository) getTransfer(ctx context.Context, query string, arg uuid.UUID) (*models.Transfer, error) {
	var t models.Transfer
	if err := r.db.GetContext(ctx, &t, query, arg); err != nil {
		return nil, sqlutil.HandlePGError(err)
	}
	return &t, nil
}

func (r *Repository) UpdateTransferStatus(ctx context.Context, t *models.Transfer) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE transfers
		SET status = $2, destination_user_id = $3, cancelled_by_user_id = $4, updated_at = $5
		WHERE id = $1`,
		t.ID, t.Status, sqlutil.ToNullUUID(t.DestinationUserID), sqlutil.ToNullUUID(t.CancelledByUserID), t.UpdatedAt)
	return sqlutil.HandlePGError(err)
}

func (r *Repository) LockTicketInstance(ctx context.Context, ticketInstanceID uuid.UUID) error {
	var id uuid.UUID
	err := r.db.GetContext(ctx, &id, `SELECT id FROM ticket_instances WHERE id = $1 FOR UPDATE`, ticketInstanceID)
	return sqlutil.HandlePGError(err)
}

func (r *Repository) PendingTransferIDsForTicket(ctx context.Context, ticketInstanceID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.SelectContext(ctx, &ids, `
		SELECT t.id
		FROM transfers t
		JOIN transfer_tickets tt ON tt.transfer_id = t.id
		WHERE tt.ticket_instance_id = $1 AND t.status = 'Pending'`, ticketInstanceID)
	if err != nil {
		return nil, sqlutil.HandlePGError(err)
	}
	return ids, nil
}

func (r *Repository) InsertTransferTicket(ctx context.Context, tt models.TransferTicket) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO transfer_tickets (id, transfer_id, ticket_instance_id, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (transfer_id, ticket_instance_id) DO NOTHING`,
		tt.ID, tt.TransferID, tt.TicketInstanceID, tt.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to add transfer ticket: %w", sqlutil.HandlePGError(err))
	}
	return nil
}

func (r *Repository) CountTransferTickets(ctx context.Context, transferID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM transfer_tickets WHERE transfer_id = $1`, transferID)
	return count, sqlutil.HandlePGError(err)
}

func (r *Repository) ListTransferTickets(ctx context.Context, transferID uuid.UUID) ([]models.TransferTicket, error) {
	var tickets []models.TransferTicket
	err := r.db.SelectContext(ctx, &tickets, `
		SELECT id, transfer_id, ticket_instance_id, created_at
		FROM transfer_tickets
		WHERE transfer_id = $1
		ORDER BY created_at ASC, id`, transferID)
	return tickets, sqlutil.HandlePGError(err)
}

// LinkTransferOrders records every order the transfer's tickets were bought in.
func (r *Repository) LinkTransferOrders(ctx context.Context, transferID uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO order_transfers (order_id, transfer_id)
		SELECT DISTINCT oi.order_id, tt.transfer_id
		FROM transfer_tickets tt
		JOIN ticket_instances ti ON ti.id = tt.ticket_instance_id
		JOIN order_items oi ON oi.id = ti.order_item_id
		WHERE tt.transfer_id = $1
		ON CONFLICT (order_id, transfer_id) DO NOTHING`, transferID)
	return sqlutil.HandlePGError(err)
}

func (r *Repository) ListTransferOrders(ctx context.Context, transferID uuid.UUID) ([]models.Order, error) {
	var orders []models.Order
	err := r.db.SelectContext(ctx, &orders, `
		SELECT o.id, o.user_id, o.on_behalf_of_user_id, o.status, o.paid_at, o.created_at
		FROM orders o
		JOIN order_transfers ot ON ot.order_id = o.id
		WHERE ot.transfer_id = $1
		ORDER BY o.created_at ASC, o.id`, transferID)
	return orders, sqlutil.HandlePGError(err)
}

func (r *Repository) FindTransfersForUser(ctx context.Context, req FindForUserRequest) ([]models.Transfer, int64, error) {
	column := "t.source_user_id"
	if req.Direction == DirectionDestination {
		column = "t.destination_user_id"
	}
	args := []interface{}{req.UserID}
	where := []string{column + " = $1"}
	if req.OrderID != nil {
		args = append(args, *req.OrderID)
		where = append(where, fmt.Sprintf(
			"EXISTS (SELECT 1 FROM order_transfers ot WHERE ot.transfer_id = t.id AND ot.order_id = $%d)", len(args)))
	}
	if req.Start != nil {
		args = append(args, *req.Start)
		where = append(where, fmt.Sprintf("t.created_at >= $%d", len(args)))
	}
	if req.End != nil {
		args = append(args, *req.End)
		where = append(where, fmt.Sprintf("t.created_at <= $%d", len(args)))
	}
	filter := strings.Join(where, " AND ")

	var total int64
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM transfers t WHERE `+filter, args...); err != nil {
		return nil, 0, sqlutil.HandlePGError(err)
	}

	args = append(args, req.Limit, req.Page*req.Limit)
	var transfers []models.Transfer
	err := r.db.SelectContext(ctx, &transfers, fmt.Sprintf(`
		SELECT `+transferColumns+`
		FROM transfers t
		WHERE %s
		ORDER BY t.created_at ASC, t.id
		LIMIT $%d OFFSET $%d`, filter, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, sqlutil.HandlePGError(err)
	}
	return transfers, total, nil
}

func (r *Repository) ListPending(ctx context.Context) ([]models.Transfer, error) {
	var transfers []models.Transfer
	err := r.db.SelectContext(ctx, &transfers, `
		SELECT `+transferColumns+`
		FROM transfers t
		WHERE t.status = 'Pending'
		ORDER BY t.created_at ASC`)
	return transfers, sqlutil.HandlePGError(err)
}

func (r *Repository) ListPendingByTicketInstanceIDs(ctx context.Context, ticketInstanceIDs []uuid.UUID) ([]models.Transfer, error) {
	query, args, err := sqlx.In(`
		SELECT DISTINCT `+transferColumns+`
		FROM transfers t
		JOIN transfer_tickets tt ON tt.transfer_id = t.id
		WHERE t.status = 'Pending' AND tt.ticket_instance_id IN (?)
		ORDER BY t.created_at ASC`, sqlutil.UUIDStrings(ticketInstanceIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	var transfers []models.Transfer
	if err := r.db.SelectContext(ctx, &transfers, r.db.Rebind(query), args...); err != nil {
		return nil, sqlutil.HandlePGError(err)
	}
	return transfers, nil
}

func (r *Repository) ListTransferEvents(ctx context.Context, transferID uuid.UUID) ([]models.Event, error) {
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

func (r *Repository) FindDefaultWallet(ctx context.Context, userID uuid.UUID) (*models.Wallet, error) {
	return r.wallets.FindDefault(ctx, userID)
}

func (r *Repository) FindOrCreateTemporaryUser(ctx context.Context, tu models.TemporaryUser) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO temporary_users (id, email, phone, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING`,
		tu.ID, sqlutil.ToSqlString(tu.Email), sqlutil.ToSqlString(tu.Phone), tu.CreatedAt)
	if err != nil {
		return false, sqlutil.HandlePGError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *Repository) AppendEvent(ctx context.Context, e models.NewDomainEvent) (*models.DomainEvent, error) {
	return r.events.Append(ctx, e)
}

func messageTypeArg(t *models.TransferMessageType) interface{} {
	if t == nil {
		return nil
	}
	return string(*t)
}
