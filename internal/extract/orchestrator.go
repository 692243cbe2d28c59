package extract

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mbdelacruz/invoice-extract/internal/common"
	"github.com/mbdelacruz/invoice-extract/internal/gateway"
	"github.com/mbdelacruz/invoice-extract/internal/normalize"
	"github.com/mbdelacruz/invoice-extract/internal/resolve"
)

const (
	defaultStructuredTimeout = 15 * time.Second
	defaultFollowupTimeout   = 5 * time.Second
)

// Request is one extraction job. All per-call knobs live here rather than
// on the orchestrator, so concurrent callers with different settings can
// share one instance.
type Request struct {
	Image       *gateway.Image
	Description string // free-text provenance, echoed into the result

	// zero values fall back to the orchestrator defaults
	StructuredTimeout time.Duration
	FollowupTimeout   time.Duration
}

// Orchestrator drives a backend through the extraction protocol:
// availability check, session setup, structured attempt, fallback on
// timeout, optional agent follow-up. It holds no per-call state, so one
// instance serves any number of sequential or concurrent extractions.
type Orchestrator struct {
	logger     *slog.Logger
	backend    gateway.Backend
	normalizer *normalize.Normalizer
	resolver   *resolve.Resolver

	structuredTimeout time.Duration
	followupTimeout   time.Duration
	now               func() time.Time
}

func New(logger *slog.Logger, backend gateway.Backend, normalizer *normalize.Normalizer, resolver *resolve.Resolver, structuredTimeout, followupTimeout time.Duration) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if structuredTimeout <= 0 {
		structuredTimeout = defaultStructuredTimeout
	}
	if followupTimeout <= 0 {
		followupTimeout = defaultFollowupTimeout
	}
	return &Orchestrator{
		logger:            logger,
		backend:           backend,
		normalizer:        normalizer,
		resolver:          resolver,
		structuredTimeout: structuredTimeout,
		followupTimeout:   followupTimeout,
		now:               time.Now,
	}
}

// Extract runs the full protocol and always returns a Result, never an
// error: failures degrade to the placeholder invoice with the causes in
// Errors. A panic anywhere in the pipeline is converted the same way.
func (o *Orchestrator) Extract(ctx context.Context, req Request) (result Result) {
	started := o.now()
	reqID := uuid.New().String()
	ctx = common.WithRequestID(ctx, reqID)
	logger := o.logger.With("req_id", reqID, "backend", o.backend.Name())

	defer func() {
		if r := recover(); r != nil {
			logger.Error("extract.panic", "panic", r)
			result = failed(o.backend.Name(), started, o.now(), fmt.Sprintf("internal error: %v", r))
		}
	}()

	t1 := req.StructuredTimeout
	if t1 <= 0 {
		t1 = o.structuredTimeout
	}
	t2 := req.FollowupTimeout
	if t2 <= 0 {
		t2 = o.followupTimeout
	}

	logger.Info("extract.start", "structured_timeout", t1.String(), "followup_timeout", t2.String())

	if err := o.backend.CheckAvailability(ctx); err != nil {
		logger.Error("extract.availability_failed", "error", err)
		return failed(o.backend.Name(), started, o.now(), fmt.Sprintf("model unavailable: %v", err))
	}

	if sb, ok := o.backend.(gateway.SessionBackend); ok {
		if err := sb.OpenSession(ctx); err != nil {
			logger.Error("extract.session_failed", "error", err)
			return failed(o.backend.Name(), started, o.now(), fmt.Sprintf("session setup failed: %v", err))
		}
		// release the model even when the request context is already dead
		defer func() {
			if err := sb.CloseSession(context.WithoutCancel(ctx)); err != nil {
				logger.Warn("extract.session_close_failed", "error", err)
			}
		}()
	}

	var advisories []string

	raw, usedFallback, err := o.runPromptStages(ctx, logger, req.Image, t1)
	if err != nil {
		return failed(o.backend.Name(), started, o.now(), err.Error())
	}
	if usedFallback {
		advisories = append(advisories, "structured attempt timed out; fallback response used")
	} else if verr := ValidateAgainstSchema(raw, InvoiceSchema()); verr != nil {
		logger.Warn("extract.schema_mismatch", "error", verr)
		advisories = append(advisories, "response deviated from requested shape")
	}

	inv := o.normalizer.Parse(raw)
	if inv.MerchantName == normalize.UnknownMerchant && len(inv.Items) == 0 {
		advisories = append(advisories, "model output was not parseable as an invoice")
	}

	if !usedFallback && inv.AgentName == "" {
		if name := o.runAgentFollowup(ctx, logger, req.Image, t2); name != "" {
			inv.AgentName = name
		}
	} else {
		logger.Debug("extract.followup.skip", "used_fallback", usedFallback, "agent_present", inv.AgentName != "")
	}

	resolution := o.resolver.Resolve(ctx, inv)

	res := assemble(inv, resolution, o.backend.Name(), req.Description, started, advisories)
	logger.Info("extract.complete",
		"result_id", res.ID,
		"merchant", inv.MerchantName,
		"items", len(inv.Items),
		"confidence", inv.Confidence,
		"used_fallback", usedFallback,
		"elapsed_ms", res.ProcessingTimeMs)
	return res
}

// runPromptStages issues the structured attempt and, on timeout only, the
// unconstrained fallback. Any other structured error, and any fallback
// failure at all, is terminal.
func (o *Orchestrator) runPromptStages(ctx context.Context, logger *slog.Logger, img *gateway.Image, t1 time.Duration) (raw string, usedFallback bool, err error) {
	raw, err = o.call(ctx, t1, gateway.Request{
		SystemPrompt: systemPrompt,
		UserPrompt:   structuredPrompt,
		Image:        img,
		Schema:       InvoiceSchema(),
	})
	if err == nil {
		return raw, false, nil
	}
	if !gateway.IsTimeout(err) {
		logger.Error("extract.structured.failed", "error", err)
		return "", false, fmt.Errorf("structured extraction failed: %w", err)
	}

	logger.Warn("extract.structured.timeout", "timeout", t1.String())
	raw, err = o.call(ctx, t1, gateway.Request{
		SystemPrompt: systemPrompt,
		UserPrompt:   fallbackPrompt,
		Image:        img,
	})
	if err != nil {
		logger.Error("extract.fallback.failed", "error", err)
		return "", true, fmt.Errorf("extraction failed after fallback: %w", err)
	}
	return raw, true, nil
}

// runAgentFollowup asks the single follow-up question. Never fatal: any
// failure degrades to "no agent hint".
func (o *Orchestrator) runAgentFollowup(ctx context.Context, logger *slog.Logger, img *gateway.Image, t2 time.Duration) string {
	answer, err := o.call(ctx, t2, gateway.Request{
		SystemPrompt: systemPrompt,
		UserPrompt:   followupPrompt,
		Image:        img,
	})
	if err != nil {
		logger.Warn("extract.followup.failed", "error", err)
		return ""
	}
	name := CleanAgentAnswer(answer)
	logger.Debug("extract.followup.done", "found", name != "")
	return name
}

type stageOutcome struct {
	text string
	err  error
}

// call runs one gateway round-trip under its own deadline. The result
// channel is buffered so a response arriving after the deadline parks in
// the buffer and is garbage collected; exactly one outcome is observed
// per stage and a late resolution never mutates anything.
func (o *Orchestrator) call(ctx context.Context, timeout time.Duration, req gateway.Request) (string, error) {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ch := make(chan stageOutcome, 1)
	go func() {
		text, err := o.backend.Generate(cctx, req)
		ch <- stageOutcome{text: text, err: err}
	}()

	select {
	case out := <-ch:
		return out.text, out.err
	case <-cctx.Done():
		if ctx.Err() != nil {
			// caller cancellation, not a stage timeout
			return "", gateway.NewBackendError(ctx.Err())
		}
		return "", gateway.NewTimeout(cctx.Err())
	}
}
