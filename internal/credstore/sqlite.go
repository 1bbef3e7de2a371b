package credstore

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

const sessionSlot = 1

// sessionRow maps the single-row session table.
type sessionRow struct {
	bun.BaseModel `bun:"table:session_credentials"`
	Slot          int       `bun:"slot,pk"`
	Token         string    `bun:"token,notnull"`
	CustomerID    string    `bun:"customer_id,notnull"`
	UpdatedAt     time.Time `bun:"updated_at,notnull"`
}

// SQLite keeps the session in a SQLite database.
type SQLite struct {
	db     *bun.DB
	logger *zap.Logger
}

// OpenSQLite opens (and if needed creates) the database at dsn.
func OpenSQLite(ctx context.Context, dsn string, logger *zap.Logger) (*SQLite, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	inMemory := dsn == ":memory:" || strings.Contains(dsn, "mode=memory")
	if !inMemory && !strings.HasPrefix(dsn, "file:") {
		if err := os.MkdirAll(filepath.Dir(dsn), 0o700); err != nil {
			return nil, storageError("open", err)
		}
	}

	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, storageError("open", err)
	}
	// Each connection to an in-memory database sees its own database.
	if inMemory {
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetMaxIdleConns(1)
	}

	db := bun.NewDB(sqlDB, sqlitedialect.New())
	if _, err := db.NewCreateTable().Model((*sessionRow)(nil)).IfNotExists().Exec(ctx); err != nil {
		_ = db.Close()
		return nil, storageError("open", err)
	}

	logger.Debug("opened sqlite credential store",
		zap.String("op", "credstore.OpenSQLite"),
		zap.Bool("inMemory", inMemory),
	)
	return &SQLite{db: db, logger: logger}, nil
}

func (s *SQLite) Load(ctx context.Context) (Credentials, error) {
	var row sessionRow
	err := s.db.NewSelect().Model(&row).Where("slot = ?", sessionSlot).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return Credentials{}, nil
	}
	if err != nil {
		return Credentials{}, storageError("read", err)
	}
	return Credentials{Token: row.Token, CustomerID: row.CustomerID}, nil
}

func (s *SQLite) Save(ctx context.Context, creds Credentials) error {
	if err := checkSave(creds); err != nil {
		return err
	}
	row := &sessionRow{
		Slot:       sessionSlot,
		Token:      creds.Token,
		CustomerID: creds.CustomerID,
		UpdatedAt:  time.Now().UTC(),
	}
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		_, err := tx.NewInsert().Model(row).
			On("CONFLICT (slot) DO UPDATE").
			Set("token = EXCLUDED.token").
			Set("customer_id = EXCLUDED.customer_id").
			Set("updated_at = EXCLUDED.updated_at").
			Exec(ctx)
		return err
	})
	if err != nil {
		return storageError("save", err)
	}
	return nil
}

func (s *SQLite) Clear(ctx context.Context) error {
	if _, err := s.db.NewDelete().Model((*sessionRow)(nil)).Where("slot = ?", sessionSlot).Exec(ctx); err != nil {
		return storageError("clear", err)
	}
	return nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
