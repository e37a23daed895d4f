package transfer

import (
	"errors"
	"fmt"

	"github.com/mcdev12/tixmarket/go/internal/models"
)

var (
	ErrNotPending              = errors.New("transfer is no longer pending")
	ErrTicketInPendingTransfer = errors.New("ticket already belongs to another pending transfer")
	ErrDuplicateTransferKey    = errors.New("transfer key already in use")
	ErrInvalidAuthorization    = errors.New("invalid transfer authorization")
	ErrInvalidRequest          = errors.New("invalid transfer request")
)

// TransitionError reports an attempt to move a transfer out of a terminal state.
type TransitionError struct {
	Action string
	Status models.TransferStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("transfer cannot be %s as it is no longer pending (status %s)", e.Action, e.Status)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrNotPending
}
