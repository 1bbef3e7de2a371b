// Package credstore persists the session credentials (bearer token and
// customer id) in a single slot. Every backend saves the slot atomically so
// a reader never sees a token without its customer id.
package credstore

import (
	"context"
	"fmt"

	"github.com/iwvelando/loan-calculator/internal/config"
	"github.com/iwvelando/loan-calculator/pkg/apperr"
	"github.com/iwvelando/loan-calculator/pkg/constants"
	"go.uber.org/zap"
)

// Credentials is the persisted session.
type Credentials struct {
	Token      string `yaml:"token" json:"token"`
	CustomerID string `yaml:"customerId" json:"customerId"`
}

// Valid reports whether both halves of the session are present.
func (c Credentials) Valid() bool {
	return c.Token != "" && c.CustomerID != ""
}

// Store is a single-slot credential store. Load returns empty Credentials
// when nothing is stored.
type Store interface {
	Load(ctx context.Context) (Credentials, error)
	Save(ctx context.Context, creds Credentials) error
	Clear(ctx context.Context) error
	Close() error
}

func storageError(op string, err error) error {
	return apperr.Wrap(apperr.KindStorage, err, fmt.Sprintf("could not %s the saved session", op))
}

func checkSave(creds Credentials) error {
	if !creds.Valid() {
		return apperr.New(apperr.KindStorage, "refusing to save an incomplete session")
	}
	return nil
}

// Open builds the store selected by cfg.
func Open(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Debug("opening credential store",
		zap.String("op", "credstore.Open"),
		zap.String("type", cfg.Type),
	)

	switch cfg.Type {
	case constants.StoreTypeMemory:
		return NewMemory(), nil
	case constants.StoreTypeFile, "":
		path, err := cfg.CredentialsPath()
		if err != nil {
			return nil, storageError("locate", err)
		}
		return NewFile(path, cfg.Passphrase, logger), nil
	case constants.StoreTypeSQLite:
		dsn, err := cfg.SQLiteDSN()
		if err != nil {
			return nil, storageError("locate", err)
		}
		return OpenSQLite(ctx, dsn, logger)
	case constants.StoreTypeRedis:
		return OpenRedis(ctx, RedisOptions{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Key:      cfg.Redis.Key,
		}, logger)
	default:
		return nil, apperr.New(apperr.KindStorage, "unknown credential store %q", cfg.Type)
	}
}
