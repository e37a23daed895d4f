package transfer

import (
	"fmt"
	"slices"

	"github.com/mcdev12/tixmarket/go/internal/models"
)

var allowedTransitions = map[models.TransferStatus][]models.TransferStatus{
	models.TransferStatusPending:   {models.TransferStatusCompleted, models.TransferStatusCancelled},
	models.TransferStatusCompleted: {}, // terminal
	models.TransferStatusCancelled: {}, // terminal
}

// validateTransition checks from -> to against the transition table.
func validateTransition(from, to models.TransferStatus) error {
	allowedNext, exists := allowedTransitions[from]
	if !exists {
		return fmt.Errorf("unknown current status: %s", from)
	}
	if slices.Contains(allowedNext, to) {
		return nil
	}
	return &TransitionError{Action: actionFor(to), Status: from}
}

func actionFor(to models.TransferStatus) string {
	switch to {
	case models.TransferStatusCancelled:
		return "cancelled"
	case models.TransferStatusCompleted:
		return "completed"
	default:
		return "modified"
	}
}
