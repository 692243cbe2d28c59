package registry

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"

	"github.com/mbdelacruz/invoice-extract/internal/common"
)

func testDB(t *testing.T) *sqlx.DB {
	t.Helper()
	cfg := common.RegistryConfig{
		Driver: "sqlite",
		DSN:    filepath.Join(t.TempDir(), "registry.db"),
	}
	db, err := Open(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("open registry: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := Migrate(db, "sqlite", nil); err != nil {
		t.Fatalf("migrate registry: %v", err)
	}
	return db
}

func TestMerchantCreateAndFind(t *testing.T) {
	db := testDB(t)
	repo := NewMerchantRepository(db, nil)
	ctx := context.Background()

	created, err := repo.Create(ctx, "Acme Corp", "123 Rizal Ave")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.ID == "" || created.Name != "Acme Corp" {
		t.Errorf("created = %+v", created)
	}
	if created.Address == nil || *created.Address != "123 Rizal Ave" {
		t.Errorf("address = %v", created.Address)
	}

	found, err := repo.FindByName(ctx, "acme corp")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if found == nil || found.ID != created.ID {
		t.Errorf("case-insensitive lookup failed: %+v", found)
	}

	missing, err := repo.FindByName(ctx, "No Such Merchant")
	if err != nil {
		t.Fatalf("find missing: %v", err)
	}
	if missing != nil {
		t.Errorf("missing lookup = %+v, want nil", missing)
	}
}

func TestCreateRejectsInvalidNames(t *testing.T) {
	db := testDB(t)
	repo := NewAgentRepository(db, nil)
	ctx := context.Background()

	for _, bad := range []string{"", "   "} {
		if _, err := repo.Create(ctx, bad, ""); err == nil {
			t.Errorf("Create(%q) accepted", bad)
		}
	}
}

func TestFirstStoreBecomesDefault(t *testing.T) {
	db := testDB(t)
	repo := NewStoreRepository(db, nil)
	ctx := context.Background()

	def, err := repo.GetDefault(ctx)
	if err != nil {
		t.Fatalf("get default on empty table: %v", err)
	}
	if def != nil {
		t.Errorf("default on empty table = %+v, want nil", def)
	}

	first, err := repo.Create(ctx, "Main Branch", "")
	if err != nil {
		t.Fatalf("create first: %v", err)
	}
	if !first.IsDefault {
		t.Error("first store is not default")
	}

	second, err := repo.Create(ctx, "Warehouse Annex", "")
	if err != nil {
		t.Fatalf("create second: %v", err)
	}
	if second.IsDefault {
		t.Error("second store stole the default flag")
	}

	def, err = repo.GetDefault(ctx)
	if err != nil {
		t.Fatalf("get default: %v", err)
	}
	if def == nil || def.ID != first.ID {
		t.Errorf("default = %+v, want first store", def)
	}
}

func TestListOrdersByCreation(t *testing.T) {
	db := testDB(t)
	repo := NewMerchantRepository(db, nil)
	ctx := context.Background()

	for _, name := range []string{"Zeta Traders", "Alpha Hardware"} {
		if _, err := repo.Create(ctx, name, ""); err != nil {
			t.Fatalf("create %q: %v", name, err)
		}
	}

	out, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(out) != 2 || out[0].Name != "Zeta Traders" {
		t.Errorf("list = %+v, want creation order", out)
	}
}
