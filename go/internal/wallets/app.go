package wallets

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/tixmarket/go/internal/models"
	"github.com/mcdev12/tixmarket/go/internal/signature"
	"github.com/mcdev12/tixmarket/go/internal/sqlutil"
)

// App handles wallet business logic
type App struct {
	db *sqlx.DB
}

// NewApp creates a new wallets App
func NewApp(db *sqlx.DB) *App {
	return &App{db: db}
}

// CreateDefault generates a key pair and makes the new wallet the user's only default.
func (a *App) CreateDefault(ctx context.Context, userID uuid.UUID, name string) (*models.Wallet, error) {
	if name == "" {
		name = "Default"
	}
	keys, err := signature.GenerateKeyPair()
	if err != nil {
		return nil, err
	}

	var wallet *models.Wallet
	err = sqlutil.Run(ctx, a.db, func(tx *sqlx.Tx) *Repository {
		return NewRepository(tx)
	}, func(repo *Repository) error {
		if err := repo.ClearDefault(ctx, userID); err != nil {
			return err
		}
		wallet, err = repo.Create(ctx, models.Wallet{
			ID:        uuid.New(),
			UserID:    userID,
			Name:      name,
			PublicKey: keys.PublicKey,
			SecretKey: keys.SecretKey,
			IsDefault: true,
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create default wallet: %w", err)
	}

	log.Info().Str("user_id", userID.String()).Str("wallet_id", wallet.ID.String()).Msg("created default wallet")
	return wallet, nil
}

// FindDefault returns the user's default wallet.
func (a *App) FindDefault(ctx context.Context, userID uuid.UUID) (*models.Wallet, error) {
	return NewRepository(a.db).FindDefault(ctx, userID)
}
