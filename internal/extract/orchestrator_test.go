package extract

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/mbdelacruz/invoice-extract/internal/gateway"
	"github.com/mbdelacruz/invoice-extract/internal/normalize"
	"github.com/mbdelacruz/invoice-extract/internal/registry"
	"github.com/mbdelacruz/invoice-extract/internal/resolve"
)

// fakeBackend scripts one response per prompt kind so tests can steer the
// orchestrator through specific protocol paths.
type fakeBackend struct {
	mu       sync.Mutex
	availErr error
	handler  func(ctx context.Context, req gateway.Request) (string, error)
	calls    []gateway.Request
}

func (f *fakeBackend) Name() string { return "fake/test-model" }

func (f *fakeBackend) CheckAvailability(context.Context) error { return f.availErr }

func (f *fakeBackend) Generate(ctx context.Context, req gateway.Request) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()
	return f.handler(ctx, req)
}

func (f *fakeBackend) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeSessionBackend struct {
	fakeBackend
	openErr   error
	opened    int
	closed    int
	sessionMu sync.Mutex
}

func (f *fakeSessionBackend) OpenSession(context.Context) error {
	f.sessionMu.Lock()
	defer f.sessionMu.Unlock()
	f.opened++
	return f.openErr
}

func (f *fakeSessionBackend) CloseSession(context.Context) error {
	f.sessionMu.Lock()
	defer f.sessionMu.Unlock()
	f.closed++
	return nil
}

// memRepo backs the resolver with an in-memory registry.
type memRepo struct {
	mu       sync.Mutex
	entities []registry.Entity
	failAll  bool
}

func (m *memRepo) List(context.Context) ([]registry.Entity, error) {
	return m.entities, nil
}

func (m *memRepo) FindByName(_ context.Context, name string) (*registry.Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAll {
		return nil, errors.New("registry down")
	}
	for i := range m.entities {
		if strings.EqualFold(m.entities[i].Name, name) {
			return &m.entities[i], nil
		}
	}
	return nil, nil
}

func (m *memRepo) Create(_ context.Context, name, address string) (*registry.Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAll {
		return nil, errors.New("registry down")
	}
	e := registry.Entity{ID: uuid.New().String(), Name: name}
	if address != "" {
		e.Address = &address
	}
	m.entities = append(m.entities, e)
	return &e, nil
}

type memStoreRepo struct {
	mu     sync.Mutex
	stores []registry.Store
}

func (m *memStoreRepo) List(context.Context) ([]registry.Store, error) {
	return m.stores, nil
}

func (m *memStoreRepo) FindByName(_ context.Context, name string) (*registry.Store, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.stores {
		if strings.EqualFold(m.stores[i].Name, name) {
			return &m.stores[i], nil
		}
	}
	return nil, nil
}

func (m *memStoreRepo) Create(_ context.Context, name, _ string) (*registry.Store, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := registry.Store{
		Entity:    registry.Entity{ID: uuid.New().String(), Name: name},
		IsDefault: len(m.stores) == 0,
	}
	m.stores = append(m.stores, s)
	return &s, nil
}

func (m *memStoreRepo) GetDefault(context.Context) (*registry.Store, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.stores {
		if m.stores[i].IsDefault {
			return &m.stores[i], nil
		}
	}
	return nil, nil
}

func testResolver() *resolve.Resolver {
	return resolve.New(nil, &memRepo{}, &memStoreRepo{}, &memRepo{})
}

func testOrchestrator(backend gateway.Backend) *Orchestrator {
	return New(nil, backend, normalize.New(nil, nil), testResolver(), 100*time.Millisecond, 50*time.Millisecond)
}

const happyJSON = `{"merchantName":"Jollibee","agentName":"Maria","date":"2024-01-17","total":224,"items":[{"name":"Chicken Joy","quantity":2,"unitPrice":85,"totalPrice":170}]}`

func TestExtractStructuredSuccess(t *testing.T) {
	backend := &fakeBackend{
		handler: func(_ context.Context, req gateway.Request) (string, error) {
			if req.Schema == nil {
				t.Error("structured request missing schema")
			}
			return happyJSON, nil
		},
	}
	res := testOrchestrator(backend).Extract(context.Background(), Request{})

	if res.Invoice.MerchantName != "Jollibee" {
		t.Errorf("merchantName = %q", res.Invoice.MerchantName)
	}
	if len(res.Errors) != 0 {
		t.Errorf("errors = %v, want none", res.Errors)
	}
	if res.MerchantID == "" {
		t.Error("merchant not resolved")
	}
	if res.Model != "fake/test-model" {
		t.Errorf("model = %q", res.Model)
	}
	// agent present in the primary response, so no follow-up
	if n := backend.callCount(); n != 1 {
		t.Errorf("generate calls = %d, want 1", n)
	}
}

func TestExtractFallbackOnTimeout(t *testing.T) {
	lateResolved := make(chan struct{})
	backend := &fakeBackend{
		handler: func(ctx context.Context, req gateway.Request) (string, error) {
			if req.Schema != nil {
				// structured call never resolves in time; its late answer
				// must have no observable effect
				<-ctx.Done()
				close(lateResolved)
				return `{"merchantName":"WRONG","total":1,"items":[]}`, ctx.Err()
			}
			return `{"merchantName":"Fallback Mart","agentName":"Ben","total":50,"items":[]}`, nil
		},
	}
	res := testOrchestrator(backend).Extract(context.Background(), Request{})

	select {
	case <-lateResolved:
	case <-time.After(2 * time.Second):
		t.Fatal("structured call never released")
	}

	if res.Invoice.MerchantName != "Fallback Mart" {
		t.Errorf("merchantName = %q, want the fallback response", res.Invoice.MerchantName)
	}
	if len(res.Errors) != 1 || !strings.Contains(res.Errors[0], "fallback") {
		t.Errorf("errors = %v, want one fallback advisory", res.Errors)
	}
	// fallback path skips the agent follow-up
	if n := backend.callCount(); n != 2 {
		t.Errorf("generate calls = %d, want structured+fallback only", n)
	}
}

func TestExtractFallbackTimeoutIsTerminal(t *testing.T) {
	backend := &fakeBackend{
		handler: func(ctx context.Context, _ gateway.Request) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		},
	}
	res := testOrchestrator(backend).Extract(context.Background(), Request{})

	if res.Invoice.MerchantName != normalize.UnknownMerchant {
		t.Errorf("merchantName = %q, want placeholder", res.Invoice.MerchantName)
	}
	if res.Invoice.Confidence != 0 {
		t.Errorf("confidence = %v, want 0", res.Invoice.Confidence)
	}
	if res.Invoice.Total != 0 || len(res.Invoice.Items) != 0 {
		t.Errorf("placeholder invoice not minimal: %+v", res.Invoice)
	}
	if len(res.Errors) == 0 {
		t.Error("errors empty on total failure")
	}
}

func TestExtractNonTimeoutErrorSkipsFallback(t *testing.T) {
	backend := &fakeBackend{
		handler: func(context.Context, gateway.Request) (string, error) {
			return "", gateway.NewBackendError(errors.New("model exploded"))
		},
	}
	res := testOrchestrator(backend).Extract(context.Background(), Request{})

	if n := backend.callCount(); n != 1 {
		t.Errorf("generate calls = %d, want 1 (no fallback on non-timeout errors)", n)
	}
	if res.Invoice.Confidence != 0 || len(res.Errors) == 0 {
		t.Errorf("want terminal failure, got confidence=%v errors=%v", res.Invoice.Confidence, res.Errors)
	}
}

func TestExtractUnavailableIsTerminal(t *testing.T) {
	backend := &fakeBackend{
		availErr: gateway.NewUnavailable(gateway.StatusNo, errors.New("daemon down")),
		handler: func(context.Context, gateway.Request) (string, error) {
			t.Error("generate called despite unavailable backend")
			return "", nil
		},
	}
	res := testOrchestrator(backend).Extract(context.Background(), Request{})

	if len(res.Errors) != 1 || !strings.Contains(res.Errors[0], "unavailable") {
		t.Errorf("errors = %v", res.Errors)
	}
	if res.Invoice.MerchantName != normalize.UnknownMerchant {
		t.Errorf("merchantName = %q, want placeholder", res.Invoice.MerchantName)
	}
}

func TestExtractAgentFollowup(t *testing.T) {
	t.Run("missing agent triggers follow-up", func(t *testing.T) {
		backend := &fakeBackend{
			handler: func(_ context.Context, req gateway.Request) (string, error) {
				if req.Schema != nil {
					return `{"merchantName":"X","total":10,"items":[]}`, nil
				}
				if req.UserPrompt != followupPrompt {
					t.Errorf("unexpected second prompt: %q", req.UserPrompt)
				}
				return "Rico Dalisay", nil
			},
		}
		res := testOrchestrator(backend).Extract(context.Background(), Request{})
		if res.Invoice.AgentName != "Rico Dalisay" {
			t.Errorf("agentName = %q", res.Invoice.AgentName)
		}
		if res.AgentID == "" {
			t.Error("recovered agent not resolved")
		}
	})

	t.Run("follow-up failure is non-fatal", func(t *testing.T) {
		backend := &fakeBackend{
			handler: func(ctx context.Context, req gateway.Request) (string, error) {
				if req.Schema != nil {
					return `{"merchantName":"X","total":10,"items":[]}`, nil
				}
				<-ctx.Done()
				return "", ctx.Err()
			},
		}
		res := testOrchestrator(backend).Extract(context.Background(), Request{})
		if res.Invoice.AgentName != "" {
			t.Errorf("agentName = %q, want empty", res.Invoice.AgentName)
		}
		if res.Invoice.MerchantName != "X" {
			t.Errorf("merchantName = %q, extraction should still succeed", res.Invoice.MerchantName)
		}
		if len(res.Errors) != 0 {
			t.Errorf("errors = %v, follow-up failure must stay silent", res.Errors)
		}
	})

	t.Run("negative answer leaves agent empty", func(t *testing.T) {
		backend := &fakeBackend{
			handler: func(_ context.Context, req gateway.Request) (string, error) {
				if req.Schema != nil {
					return `{"merchantName":"X","total":10,"items":[]}`, nil
				}
				return "NONE", nil
			},
		}
		res := testOrchestrator(backend).Extract(context.Background(), Request{})
		if res.Invoice.AgentName != "" {
			t.Errorf("agentName = %q, want empty", res.Invoice.AgentName)
		}
	})
}

func TestExtractSessionLifecycle(t *testing.T) {
	t.Run("closed on success", func(t *testing.T) {
		backend := &fakeSessionBackend{}
		backend.handler = func(context.Context, gateway.Request) (string, error) {
			return happyJSON, nil
		}
		testOrchestrator(backend).Extract(context.Background(), Request{})
		if backend.opened != 1 || backend.closed != 1 {
			t.Errorf("opened=%d closed=%d, want 1/1", backend.opened, backend.closed)
		}
	})

	t.Run("closed on failure", func(t *testing.T) {
		backend := &fakeSessionBackend{}
		backend.handler = func(context.Context, gateway.Request) (string, error) {
			return "", gateway.NewBackendError(errors.New("boom"))
		}
		testOrchestrator(backend).Extract(context.Background(), Request{})
		if backend.closed != 1 {
			t.Errorf("closed=%d, want 1 even on failure", backend.closed)
		}
	})

	t.Run("open failure is terminal", func(t *testing.T) {
		backend := &fakeSessionBackend{openErr: errors.New("no memory")}
		backend.handler = func(context.Context, gateway.Request) (string, error) {
			t.Error("generate called after session open failed")
			return "", nil
		}
		res := testOrchestrator(backend).Extract(context.Background(), Request{})
		if len(res.Errors) == 0 {
			t.Error("errors empty after session failure")
		}
	})
}

func TestExtractRecoversPanic(t *testing.T) {
	backend := &fakeBackend{
		handler: func(context.Context, gateway.Request) (string, error) {
			return happyJSON, nil
		},
	}
	// a nil resolver blows up mid-pipeline; the caller must still get a result
	orch := New(nil, backend, normalize.New(nil, nil), nil, time.Second, time.Second)
	res := orch.Extract(context.Background(), Request{})

	if res.Invoice.MerchantName != normalize.UnknownMerchant {
		t.Errorf("merchantName = %q, want placeholder", res.Invoice.MerchantName)
	}
	if len(res.Errors) != 1 || !strings.Contains(res.Errors[0], "internal error") {
		t.Errorf("errors = %v", res.Errors)
	}
}

func TestExtractResolvesEntities(t *testing.T) {
	merchants := &memRepo{}
	stores := &memStoreRepo{}
	agents := &memRepo{}
	resolver := resolve.New(nil, merchants, stores, agents)

	backend := &fakeBackend{
		handler: func(context.Context, gateway.Request) (string, error) {
			return `{"merchantName":"Acme Corp","storeName":"Main Branch","agentName":"Maria","total":10,"items":[]}`, nil
		},
	}
	orch := New(nil, backend, normalize.New(nil, nil), resolver, time.Second, time.Second)

	first := orch.Extract(context.Background(), Request{})
	second := orch.Extract(context.Background(), Request{})

	if first.MerchantID == "" || first.MerchantID != second.MerchantID {
		t.Errorf("merchant ids differ across runs: %q vs %q", first.MerchantID, second.MerchantID)
	}
	if len(merchants.entities) != 1 {
		t.Errorf("merchant rows = %d, want 1", len(merchants.entities))
	}
	if first.StoreName != "Main Branch" {
		t.Errorf("storeName = %q", first.StoreName)
	}
}
