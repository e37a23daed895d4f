package eventlog

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/tixmarket/go/internal/models"
	"github.com/mcdev12/tixmarket/go/internal/sqlutil"
)

var ErrInvalidEvent = errors.New("invalid domain event")

// PostProcessor runs synchronously after an event is inserted, inside the
// same transaction. An error aborts the transaction.
type PostProcessor interface {
	PostProcess(ctx context.Context, tx sqlutil.DBTX, event *models.DomainEvent) error
}

// Writer appends events inside a caller owned transaction.
type Writer struct {
	tx   sqlutil.DBTX
	repo *Repository
	post PostProcessor
}

// NewWriter binds a writer to tx. post may be nil.
func NewWriter(tx sqlutil.DBTX, post PostProcessor) *Writer {
	return &Writer{
		tx:   tx,
		repo: NewRepository(tx),
		post: post,
	}
}

// Append inserts the event and runs post-processing. Any error must abort
// the enclosing transaction.
func (w *Writer) Append(ctx context.Context, e models.NewDomainEvent) (*models.DomainEvent, error) {
	if err := validate(e); err != nil {
		return nil, err
	}

	event, err := w.repo.Insert(ctx, e)
	if err != nil {
		return nil, err
	}

	if w.post != nil {
		if err := w.post.PostProcess(ctx, w.tx, event); err != nil {
			return nil, fmt.Errorf("post-process %s: %w", event.EventType, err)
		}
	}

	log.Debug().
		Str("event_id", event.ID.String()).
		Int64("seq", event.Sequence).
		Str("event_type", string(event.EventType)).
		Msg("domain event appended")
	return event, nil
}

func validate(e models.NewDomainEvent) error {
	if e.EventType == "" {
		return fmt.Errorf("%w: event type is required", ErrInvalidEvent)
	}
	if e.MainTable == "" {
		return fmt.Errorf("%w: main table is required", ErrInvalidEvent)
	}
	return nil
}
