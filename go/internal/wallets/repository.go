package wallets

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/mcdev12/tixmarket/go/internal/models"
	"github.com/mcdev12/tixmarket/go/internal/sqlutil"
)

var ErrNoDefaultWallet = errors.New("user has no default wallet")

const walletColumns = `id, user_id, name, public_key, secret_key, is_default, created_at`

// Repository implements wallet data access operations
type Repository struct {
	db sqlutil.DBTX
}

// NewRepository creates a new wallets repository
func NewRepository(db sqlutil.DBTX) *Repository {
	return &Repository{db: db}
}

// FindDefault returns the user's default wallet.
func (r *Repository) FindDefault(ctx context.Context, userID uuid.UUID) (*models.Wallet, error) {
	var w models.Wallet
	err := r.db.GetContext(ctx, &w, `
		SELECT `+walletColumns+`
		FROM wallets
		WHERE user_id = $1 AND is_default`, userID)
	if err != nil {
		err = sqlutil.HandlePGError(err)
		if errors.Is(err, models.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNoDefaultWallet, userID)
		}
		return nil, fmt.Errorf("failed to get default wallet: %w", err)
	}
	return &w, nil
}

// ClearDefault unsets the default flag on every wallet of the user.
func (r *Repository) ClearDefault(ctx context.Context, userID uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `UPDATE wallets SET is_default = false WHERE user_id = $1 AND is_default`, userID)
	if err != nil {
		return fmt.Errorf("failed to clear default wallet: %w", sqlutil.HandlePGError(err))
	}
	return nil
}

// Create inserts a wallet.
func (r *Repository) Create(ctx context.Context, w models.Wallet) (*models.Wallet, error) {
	var created models.Wallet
	err := r.db.QueryRowxContext(ctx, `
		INSERT INTO wallets (id, user_id, name, public_key, secret_key, is_default)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+walletColumns,
		w.ID, w.UserID, w.Name, w.PublicKey, w.SecretKey, w.IsDefault,
	).StructScan(&created)
	if err != nil {
		return nil, fmt.Errorf("failed to create wallet: %w", sqlutil.HandlePGError(err))
	}
	return &created, nil
}
