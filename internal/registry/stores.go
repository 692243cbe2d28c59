package registry

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/mbdelacruz/invoice-extract/internal/common"
)

// StoreRepository exposes the stores table. The first store ever created
// becomes the default; later creations never steal the flag.
type StoreRepository interface {
	List(ctx context.Context) ([]Store, error)
	FindByName(ctx context.Context, name string) (*Store, error)
	Create(ctx context.Context, name, address string) (*Store, error)
	GetDefault(ctx context.Context) (*Store, error)
}

type storeRepository struct {
	db     *sqlx.DB
	logger *slog.Logger
}

func NewStoreRepository(db *sqlx.DB, logger *slog.Logger) StoreRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &storeRepository{db: db, logger: logger}
}

const storeColumns = `id, name, address, is_default, created_at, updated_at`

func (r *storeRepository) List(ctx context.Context) ([]Store, error) {
	var out []Store
	query := `SELECT ` + storeColumns + ` FROM stores ORDER BY created_at`
	if err := r.db.SelectContext(ctx, &out, query); err != nil {
		r.logger.Error("registry.list_failed", "table", "stores", "error", err)
		return nil, common.WrapError(err, "list stores")
	}
	return out, nil
}

func (r *storeRepository) FindByName(ctx context.Context, name string) (*Store, error) {
	var s Store
	query := `SELECT ` + storeColumns + ` FROM stores WHERE LOWER(name) = LOWER($1) LIMIT 1`
	err := r.db.GetContext(ctx, &s, query, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("registry.find_failed", "table", "stores", "name", name, "error", err)
		return nil, common.WrapError(err, "find store")
	}
	return &s, nil
}

func (r *storeRepository) Create(ctx context.Context, name, address string) (*Store, error) {
	if err := common.ValidateEntityName("name", name); err != nil {
		return nil, err
	}

	var count int
	if err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM stores`); err != nil {
		return nil, common.WrapError(err, "count stores")
	}

	now := time.Now().UTC()
	s := Store{
		Entity: Entity{
			ID:        uuid.New().String(),
			Name:      name,
			CreatedAt: now,
			UpdatedAt: now,
		},
		IsDefault: count == 0,
	}
	if address != "" {
		s.Address = &address
	}

	query := `INSERT INTO stores (id, name, address, is_default, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6)`
	if _, err := r.db.ExecContext(ctx, query, s.ID, s.Name, s.Address, s.IsDefault, s.CreatedAt, s.UpdatedAt); err != nil {
		r.logger.Error("registry.create_failed", "table", "stores", "name", name, "error", err)
		return nil, common.WrapError(err, "create store")
	}

	r.logger.Info("registry.created", "table", "stores", "id", s.ID, "name", s.Name, "is_default", s.IsDefault)
	return &s, nil
}

// GetDefault returns (nil, nil) when no store exists yet.
func (r *storeRepository) GetDefault(ctx context.Context) (*Store, error) {
	var s Store
	query := `SELECT ` + storeColumns + ` FROM stores WHERE is_default = TRUE LIMIT 1`
	err := r.db.GetContext(ctx, &s, query)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("registry.default_lookup_failed", "error", err)
		return nil, common.WrapError(err, "default store")
	}
	return &s, nil
}
