package interactions

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/tixmarket/go/internal/models"
	"github.com/mcdev12/tixmarket/go/internal/sqlutil"
)

// Logger records organization interactions for appended domain events. It
// runs inside the appending transaction so a failure aborts the business
// change along with the event.
type Logger struct {
	newQueries func(tx sqlutil.DBTX) Queries
	clock      clockwork.Clock
}

// NewLogger creates a Logger backed by Repository.
func NewLogger(clock clockwork.Clock) *Logger {
	return newLogger(func(tx sqlutil.DBTX) Queries { return NewRepository(tx) }, clock)
}

func newLogger(newQueries func(tx sqlutil.DBTX) Queries, clock clockwork.Clock) *Logger {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Logger{newQueries: newQueries, clock: clock}
}

// PostProcess implements eventlog.PostProcessor.
func (l *Logger) PostProcess(ctx context.Context, tx sqlutil.DBTX, event *models.DomainEvent) error {
	if event.MainID == nil {
		return nil
	}
	q := l.newQueries(tx)
	now := l.clock.Now().UTC()
	mainID := *event.MainID

	switch event.EventType {
	case models.DomainEventEventInterestCreated:
		if event.ActorUserID == nil {
			return nil
		}
		orgID, err := q.EventOrganizationID(ctx, mainID)
		if err != nil {
			return err
		}
		return q.LogInteraction(ctx, orgID, *event.ActorUserID, now)

	case models.DomainEventOrderCompleted, models.DomainEventOrderRefund:
		order, err := q.GetOrder(ctx, mainID)
		if err != nil {
			return err
		}
		orgIDs, err := q.OrderOrganizationIDs(ctx, mainID)
		if err != nil {
			return err
		}
		return logAll(ctx, q, orgIDs, now, order.AttributedUserID())

	case models.DomainEventTicketRedeemed:
		orgID, ownerID, err := q.TicketOrganizationAndOwner(ctx, mainID)
		if err != nil {
			return err
		}
		if ownerID == nil {
			return nil
		}
		return q.LogInteraction(ctx, orgID, *ownerID, now)

	case models.DomainEventTransferTicketStarted,
		models.DomainEventTransferTicketCancelled,
		models.DomainEventTransferTicketCompleted:
		return l.transfer(ctx, q, mainID, now)
	}
	return nil
}

func (l *Logger) transfer(ctx context.Context, q Queries, transferID uuid.UUID, now time.Time) error {
	t, err := q.GetTransfer(ctx, transferID)
	if err != nil {
		return err
	}
	orgIDs, err := q.TransferOrganizationIDs(ctx, transferID)
	if err != nil {
		return err
	}

	users := []uuid.UUID{t.SourceUserID}
	if t.DestinationUserID != nil {
		users = append(users, *t.DestinationUserID)
		if !t.Direct && t.DestinationTemporaryUserID != nil {
			if err := q.LinkTemporaryUser(ctx, *t.DestinationTemporaryUserID, *t.DestinationUserID); err != nil {
				return err
			}
			log.Debug().
				Str("temporary_user_id", t.DestinationTemporaryUserID.String()).
				Str("user_id", t.DestinationUserID.String()).
				Msg("linked temporary user")
		}
	}
	return logAll(ctx, q, orgIDs, now, users...)
}

func logAll(ctx context.Context, q Queries, orgIDs []uuid.UUID, at time.Time, userIDs ...uuid.UUID) error {
	for _, orgID := range orgIDs {
		for _, userID := range userIDs {
			if err := q.LogInteraction(ctx, orgID, userID, at); err != nil {
				return err
			}
		}
	}
	return nil
}
