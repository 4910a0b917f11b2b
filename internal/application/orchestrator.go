// Package application runs snapshots: it drives the prompt pack through the
// runnable providers, records every answer, scores the results and manages
// the snapshot lifecycle.
package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ahrav/go-beacon/internal/domain"
	"github.com/ahrav/go-beacon/internal/extraction"
	"github.com/ahrav/go-beacon/internal/ports"
	"github.com/ahrav/go-beacon/internal/prompts"
)

// OutcomeAdapterError labels a response whose adapter call failed.
const OutcomeAdapterError = "adapter_error"

// OrchestratorConfig controls which providers run and how.
type OrchestratorConfig struct {
	// ExecutionSet lists the providers snapshots run against. A provider
	// must also be enabled in the AdapterSource to run.
	ExecutionSet []domain.Provider
	// MaxConcurrency caps parallel providers. Zero means no cap.
	MaxConcurrency int
	// ModelOverrides replaces a provider's configured model per call.
	ModelOverrides map[domain.Provider]string
	// LockTimeout bounds the wait for the run lock. Zero waits as long as
	// the caller's context allows.
	LockTimeout time.Duration
}

// Orchestrator owns the snapshot lifecycle from creation to the terminal
// transition.
type Orchestrator struct {
	deps
	store    ports.SnapshotStore
	adapters ports.AdapterSource
	lock     ports.RunLock
	pack     *prompts.Pack
	cfg      OrchestratorConfig
}

// NewOrchestrator wires an orchestrator. lock serializes snapshot creation
// per client.
func NewOrchestrator(
	store ports.SnapshotStore,
	adapters ports.AdapterSource,
	lock ports.RunLock,
	pack *prompts.Pack,
	cfg OrchestratorConfig,
	opts ...Option,
) (*Orchestrator, error) {
	switch {
	case store == nil:
		return nil, errors.New("orchestrator: store is required")
	case adapters == nil:
		return nil, errors.New("orchestrator: adapter source is required")
	case lock == nil:
		return nil, errors.New("orchestrator: run lock is required")
	case pack == nil:
		return nil, errors.New("orchestrator: prompt pack is required")
	}

	d := defaultDeps()
	for _, opt := range opts {
		opt(&d)
	}
	return &Orchestrator{
		deps:     d,
		store:    store,
		adapters: adapters,
		lock:     lock,
		pack:     pack,
		cfg:      cfg,
	}, nil
}

// Run starts a snapshot for clientID and executes it.
func (o *Orchestrator) Run(ctx context.Context, clientID string) (*domain.Snapshot, error) {
	snap, err := o.Start(ctx, clientID)
	if err != nil {
		return nil, err
	}
	return o.Execute(ctx, snap)
}

// Start creates a running snapshot for clientID. It returns
// domain.ErrRunInProgress when the client already has one.
func (o *Orchestrator) Start(ctx context.Context, clientID string) (*domain.Snapshot, error) {
	client, err := o.store.GetClient(ctx, clientID)
	if err != nil {
		return nil, fmt.Errorf("load client %s: %w", clientID, err)
	}

	lockCtx := ctx
	if o.cfg.LockTimeout > 0 {
		var cancel context.CancelFunc
		lockCtx, cancel = context.WithTimeout(ctx, o.cfg.LockTimeout)
		defer cancel()
	}
	release, err := o.lock.Acquire(lockCtx, clientID)
	if err != nil {
		return nil, fmt.Errorf("acquire run lock for %s: %w", clientID, err)
	}
	defer release()

	running, err := o.store.HasRunningSnapshot(ctx, clientID)
	if err != nil {
		return nil, fmt.Errorf("check running snapshot for %s: %w", clientID, err)
	}
	if running {
		return nil, fmt.Errorf("%w: client %s", domain.ErrRunInProgress, clientID)
	}

	snap := domain.NewSnapshot(o.newID(), client, o.pack.Version, o.clock())
	if err := o.store.CreateSnapshot(ctx, snap); err != nil {
		return nil, fmt.Errorf("create snapshot for %s: %w", clientID, err)
	}

	o.logger.Info("snapshot started",
		zap.String("snapshot_id", snap.ID),
		zap.String("client_id", clientID),
		zap.String("prompt_pack_version", snap.PromptPackVersion))
	return snap, nil
}

// RunnableProviders returns the enabled providers on the execution path, in
// canonical order.
func (o *Orchestrator) RunnableProviders() []domain.Provider {
	inSet := make(map[domain.Provider]bool, len(o.cfg.ExecutionSet))
	for _, p := range o.cfg.ExecutionSet {
		inSet[p] = true
	}
	var out []domain.Provider
	for _, p := range o.adapters.EnabledProviders() {
		if inSet[p] {
			out = append(out, p)
		}
	}
	return out
}

// Execute runs the prompt pack for a running snapshot and finalizes it.
//
// With no runnable providers the snapshot fails with "no providers enabled"
// and no response rows; the returned error is nil because the snapshot
// itself carries the failure. Adapter and parse failures become response
// rows and never fail the snapshot. A persistence error aborts the run and
// the snapshot is finalized failed with that error's text.
func (o *Orchestrator) Execute(ctx context.Context, snap *domain.Snapshot) (*domain.Snapshot, error) {
	if snap.Status != domain.StatusRunning {
		return snap, fmt.Errorf("%w: snapshot %s is %s", domain.ErrInvalidTransition, snap.ID, snap.Status)
	}

	providers := o.RunnableProviders()
	ctx = o.observer.RunStarted(ctx, snap, providers)
	log := o.logger.With(zap.String("snapshot_id", snap.ID), zap.String("client_id", snap.ClientID))

	if len(providers) == 0 {
		log.Warn("no runnable providers", zap.Strings("execution_set", providerNames(o.cfg.ExecutionSet)))
		return o.fail(ctx, snap, domain.ErrNoProvidersEnabled)
	}

	rendered, err := o.renderPrompts(ctx, snap.ClientID)
	if err != nil {
		return o.fail(ctx, snap, err)
	}

	records, err := o.fanOut(ctx, snap, providers, rendered, log)
	if err != nil {
		log.Error("snapshot aborted", zap.Error(err))
		return o.fail(ctx, snap, err)
	}

	score := domain.ScoreSnapshot(records)
	if err := snap.Complete(score, o.clock()); err != nil {
		return snap, err
	}
	log.Info("snapshot scored",
		zap.Int("overall_score", score.Overall),
		zap.Any("score_by_provider", score.ByProvider))
	return o.finalize(ctx, snap)
}

func (o *Orchestrator) renderPrompts(ctx context.Context, clientID string) ([]prompts.Rendered, error) {
	client, err := o.store.GetClient(ctx, clientID)
	if err != nil {
		return nil, fmt.Errorf("load client %s: %w", clientID, err)
	}
	competitors, err := o.store.ListCompetitors(ctx, clientID)
	if err != nil {
		return nil, fmt.Errorf("load competitors for %s: %w", clientID, err)
	}
	rendered, err := o.pack.Render(prompts.NewVars(client.Name, client.Industry, competitors))
	if err != nil {
		return nil, fmt.Errorf("render prompt pack %s: %w", o.pack.Version, err)
	}
	return rendered, nil
}

// fanOut runs one task per provider and waits for all of them. Prompts
// within a provider run in pack order.
func (o *Orchestrator) fanOut(
	ctx context.Context,
	snap *domain.Snapshot,
	providers []domain.Provider,
	rendered []prompts.Rendered,
	log *zap.Logger,
) (map[domain.Provider][]domain.ExtractionRecord, error) {
	var (
		mu      sync.Mutex
		records = make(map[domain.Provider][]domain.ExtractionRecord, len(providers))
	)

	g, gctx := errgroup.WithContext(ctx)
	if o.cfg.MaxConcurrency > 0 {
		g.SetLimit(o.cfg.MaxConcurrency)
	}

	for _, p := range providers {
		g.Go(func() error {
			recs, err := o.runProvider(gctx, snap, p, rendered, log.With(zap.String("provider", string(p))))
			mu.Lock()
			records[p] = recs
			mu.Unlock()
			return err
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return records, nil
}

// runProvider sends every prompt to one provider and records each answer.
// It stops early only on a persistence error or when ctx is done.
func (o *Orchestrator) runProvider(
	ctx context.Context,
	snap *domain.Snapshot,
	p domain.Provider,
	rendered []prompts.Rendered,
	log *zap.Logger,
) ([]domain.ExtractionRecord, error) {
	adapter, adapterErr := o.adapters.Adapter(p)
	if adapterErr != nil {
		log.Error("adapter unavailable", zap.Error(adapterErr))
	}

	// Rows for calls already in flight are written even if ctx ends.
	writeCtx := context.WithoutCancel(ctx)

	var recs []domain.ExtractionRecord
	for _, r := range rendered {
		if err := ctx.Err(); err != nil {
			return recs, fmt.Errorf("run cancelled before %s prompt %d: %w", p, r.Ordinal, err)
		}

		resp := &domain.ProviderResponse{
			ID:            o.newID(),
			SnapshotID:    snap.ID,
			PromptOrdinal: r.Ordinal,
			PromptKey:     r.Key,
			Provider:      p,
		}

		var outcome string
		if adapterErr != nil {
			outcome = o.recordAdapterError(resp, adapterErr)
		} else {
			completion, err := adapter.Run(ctx, o.pack.System, r.Text, o.cfg.ModelOverrides[p])
			resp.ModelUsed = completion.ModelUsed
			resp.LatencyMS = completion.Latency.Milliseconds()
			if err != nil {
				outcome = o.recordAdapterError(resp, err)
				log.Warn("adapter call failed",
					zap.String("prompt_key", r.Key), zap.Int("ordinal", r.Ordinal), zap.Error(err))
			} else {
				resp.RawText = completion.RawText
				var evalErr error
				outcome, evalErr = applyOutcome(resp, extraction.Evaluate(completion.RawText))
				if evalErr != nil {
					return recs, fmt.Errorf("encode parsed json for %s prompt %d: %w", p, r.Ordinal, evalErr)
				}
			}
		}
		resp.CreatedAt = o.clock()

		if err := o.store.InsertResponse(writeCtx, resp); err != nil {
			return recs, fmt.Errorf("record %s prompt %d: %w", p, r.Ordinal, err)
		}
		o.observer.ResponseRecorded(ctx, resp, outcome)
		log.Debug("response recorded",
			zap.String("prompt_key", r.Key),
			zap.Int("ordinal", r.Ordinal),
			zap.String("outcome", outcome),
			zap.Int64("latency_ms", resp.LatencyMS))

		if resp.ParseOK {
			recs = append(recs, *resp.Extraction)
		}
	}
	return recs, nil
}

func (o *Orchestrator) recordAdapterError(resp *domain.ProviderResponse, err error) string {
	msg := err.Error()
	resp.Error = &msg
	resp.ParseOK = false
	return OutcomeAdapterError
}

// applyOutcome copies an evaluation result onto the response row.
func applyOutcome(resp *domain.ProviderResponse, out extraction.Outcome) (string, error) {
	parsed, err := out.ParsedJSON()
	if err != nil {
		return "", err
	}
	resp.ParseOK = out.OK()
	resp.Extraction = out.Record
	resp.ParsedJSON = parsed
	return out.Kind.String(), nil
}

// fail moves snap to failed with cause's text and finalizes it.
func (o *Orchestrator) fail(ctx context.Context, snap *domain.Snapshot, cause error) (*domain.Snapshot, error) {
	if err := snap.Fail(cause.Error(), o.clock()); err != nil {
		return snap, err
	}
	final, err := o.finalize(ctx, snap)
	if err != nil {
		return final, err
	}
	if errors.Is(cause, domain.ErrNoProvidersEnabled) {
		return final, nil
	}
	return final, fmt.Errorf("snapshot %s failed: %w", snap.ID, cause)
}

// finalize persists the terminal state. A snapshot already moved to a
// terminal state elsewhere, typically by recovery, keeps that state; the
// stored row is returned instead.
func (o *Orchestrator) finalize(ctx context.Context, snap *domain.Snapshot) (*domain.Snapshot, error) {
	writeCtx := context.WithoutCancel(ctx)
	elapsed := o.clock().Sub(snap.StartedAt)
	log := o.logger.With(zap.String("snapshot_id", snap.ID), zap.String("client_id", snap.ClientID))

	err := o.store.FinalizeSnapshot(writeCtx, snap)
	switch {
	case err == nil:
		log.Info("snapshot finalized",
			zap.String("status", string(snap.Status)),
			zap.Duration("elapsed", elapsed))
		o.observer.RunFinished(ctx, snap, elapsed, nil)
		return snap, nil

	case errors.Is(err, domain.ErrSnapshotNotRunning):
		log.Warn("snapshot already terminal; discarding result",
			zap.String("computed_status", string(snap.Status)))
		o.observer.RunFinished(ctx, snap, elapsed, err)
		stored, getErr := o.store.GetSnapshot(writeCtx, snap.ID)
		if getErr != nil {
			return snap, nil
		}
		return stored, nil

	default:
		log.Error("finalize snapshot", zap.Error(err))
		o.observer.RunFinished(ctx, snap, elapsed, err)
		return snap, fmt.Errorf("finalize snapshot %s: %w", snap.ID, err)
	}
}

func providerNames(ps []domain.Provider) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = string(p)
	}
	return out
}
