package resolve

import (
	"context"
	"log/slog"
	"strings"

	"github.com/mbdelacruz/invoice-extract/internal/normalize"
	"github.com/mbdelacruz/invoice-extract/internal/registry"
)

// Resolution carries the identifiers attached to a candidate invoice.
// Empty fields mean "unresolved": the entity was missing, blank, or the
// registry was unreachable. Unresolved is never an error.
type Resolution struct {
	MerchantID string
	StoreID    string
	StoreName  string
	AgentID    string
}

// Resolver maps free-text entity names from a candidate invoice onto stable
// registry identifiers, creating entries on first sight. Lookup is a
// case-insensitive exact match; near-duplicate names with different
// punctuation stay separate on purpose.
type Resolver struct {
	logger    *slog.Logger
	merchants registry.MerchantRepository
	stores    registry.StoreRepository
	agents    registry.AgentRepository
}

func New(logger *slog.Logger, merchants registry.MerchantRepository, stores registry.StoreRepository, agents registry.AgentRepository) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		logger:    logger,
		merchants: merchants,
		stores:    stores,
		agents:    agents,
	}
}

// Resolve attaches registry identifiers for the merchant, store, and agent
// named on the candidate. Registry failures are logged and leave the
// corresponding field unresolved; they never abort the extraction.
func (r *Resolver) Resolve(ctx context.Context, inv normalize.CandidateInvoice) Resolution {
	var res Resolution

	// the Unknown Merchant placeholder is extraction noise, not an entity
	if name := strings.TrimSpace(inv.MerchantName); name != "" && name != normalize.UnknownMerchant {
		if m, err := findOrCreateEntity(ctx, r.merchants, name, addressLine(inv.MerchantAddress)); err != nil {
			r.logger.Warn("resolve.merchant_unresolved", "name", name, "error", err)
		} else {
			res.MerchantID = m.ID
		}
	}

	res.StoreID, res.StoreName = r.resolveStore(ctx, inv.StoreName)

	if name := strings.TrimSpace(inv.AgentName); name != "" {
		if a, err := findOrCreateEntity(ctx, r.agents, name, ""); err != nil {
			r.logger.Warn("resolve.agent_unresolved", "name", name, "error", err)
		} else {
			res.AgentID = a.ID
		}
	}

	return res
}

// resolveStore applies the extraction store policy: an extracted name wins
// (created on first sight), otherwise the current default store, otherwise
// nothing — an empty registry is not an error.
func (r *Resolver) resolveStore(ctx context.Context, extracted string) (id, name string) {
	if n := strings.TrimSpace(extracted); n != "" {
		s, err := r.findOrCreateStore(ctx, n)
		if err != nil {
			r.logger.Warn("resolve.store_unresolved", "name", n, "error", err)
			return "", n
		}
		return s.ID, s.Name
	}

	def, err := r.stores.GetDefault(ctx)
	if err != nil {
		r.logger.Warn("resolve.default_store_unresolved", "error", err)
		return "", ""
	}
	if def == nil {
		return "", ""
	}
	return def.ID, def.Name
}

// entityTable is the common surface of the merchant and agent repositories.
type entityTable interface {
	FindByName(ctx context.Context, name string) (*registry.Entity, error)
	Create(ctx context.Context, name, address string) (*registry.Entity, error)
}

// findOrCreateEntity is not atomic across concurrent callers; upstream
// usage serializes extractions, so a same-named double create is an
// accepted race rather than a locking concern.
func findOrCreateEntity(ctx context.Context, table entityTable, name, address string) (*registry.Entity, error) {
	existing, err := table.FindByName(ctx, name)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}
	return table.Create(ctx, name, address)
}

func (r *Resolver) findOrCreateStore(ctx context.Context, name string) (*registry.Store, error) {
	existing, err := r.stores.FindByName(ctx, name)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}
	return r.stores.Create(ctx, name, "")
}

func addressLine(a *normalize.Address) string {
	if a == nil {
		return ""
	}
	parts := make([]string, 0, 5)
	for _, p := range []string{a.Street, a.City, a.State, a.ZipCode, a.Country} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}
