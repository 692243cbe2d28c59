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

// MerchantRepository exposes the merchants table.
type MerchantRepository interface {
	List(ctx context.Context) ([]Entity, error)
	FindByName(ctx context.Context, name string) (*Entity, error)
	Create(ctx context.Context, name, address string) (*Entity, error)
}

// AgentRepository exposes the agents table.
type AgentRepository interface {
	List(ctx context.Context) ([]Entity, error)
	FindByName(ctx context.Context, name string) (*Entity, error)
	Create(ctx context.Context, name, address string) (*Entity, error)
}

// entityRepository is the shared implementation behind the merchant and
// agent tables; they differ only in table name.
type entityRepository struct {
	db     *sqlx.DB
	logger *slog.Logger
	table  string
}

func NewMerchantRepository(db *sqlx.DB, logger *slog.Logger) MerchantRepository {
	return newEntityRepository(db, logger, "merchants")
}

func NewAgentRepository(db *sqlx.DB, logger *slog.Logger) AgentRepository {
	return newEntityRepository(db, logger, "agents")
}

func newEntityRepository(db *sqlx.DB, logger *slog.Logger, table string) *entityRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &entityRepository{db: db, logger: logger, table: table}
}

func (r *entityRepository) List(ctx context.Context) ([]Entity, error) {
	var out []Entity
	query := `SELECT id, name, address, created_at, updated_at FROM ` + r.table + ` ORDER BY created_at`
	if err := r.db.SelectContext(ctx, &out, query); err != nil {
		r.logger.Error("registry.list_failed", "table", r.table, "error", err)
		return nil, common.WrapError(err, "list "+r.table)
	}
	return out, nil
}

// FindByName matches case-insensitively and exactly; no fuzzy matching.
// Returns (nil, nil) when no row matches.
func (r *entityRepository) FindByName(ctx context.Context, name string) (*Entity, error) {
	var e Entity
	query := `SELECT id, name, address, created_at, updated_at FROM ` + r.table + ` WHERE LOWER(name) = LOWER($1) LIMIT 1`
	err := r.db.GetContext(ctx, &e, query, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("registry.find_failed", "table", r.table, "name", name, "error", err)
		return nil, common.WrapError(err, "find in "+r.table)
	}
	return &e, nil
}

func (r *entityRepository) Create(ctx context.Context, name, address string) (*Entity, error) {
	if err := common.ValidateEntityName("name", name); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	e := Entity{
		ID:        uuid.New().String(),
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if address != "" {
		e.Address = &address
	}

	query := `INSERT INTO ` + r.table + ` (id, name, address, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`
	if _, err := r.db.ExecContext(ctx, query, e.ID, e.Name, e.Address, e.CreatedAt, e.UpdatedAt); err != nil {
		r.logger.Error("registry.create_failed", "table", r.table, "name", name, "error", err)
		return nil, common.WrapError(err, "create in "+r.table)
	}

	r.logger.Info("registry.created", "table", r.table, "id", e.ID, "name", e.Name)
	return &e, nil
}
