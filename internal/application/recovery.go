package application

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ahrav/go-beacon/internal/domain"
	"github.com/ahrav/go-beacon/internal/ports"
)

// ResetResult reports what a reset touched.
type ResetResult struct {
	Count int      `json:"count"`
	IDs   []string `json:"ids"`
}

// Recovery clears snapshots stuck in running, e.g. after a crash mid-run.
type Recovery struct {
	deps
	store ports.SnapshotStore
}

// NewRecovery creates a Recovery backed by store.
func NewRecovery(store ports.SnapshotStore, opts ...Option) (*Recovery, error) {
	if store == nil {
		return nil, errors.New("recovery: store is required")
	}
	d := defaultDeps()
	for _, opt := range opts {
		opt(&d)
	}
	return &Recovery{deps: d, store: store}, nil
}

// ResetMessage is the error text written onto snapshots failed by a reset.
func ResetMessage(actor string) string {
	return fmt.Sprintf("manually reset by %s: snapshot was stuck in running state", actor)
}

// Running lists the client's running snapshots, oldest first.
func (r *Recovery) Running(ctx context.Context, clientID string) ([]domain.Snapshot, error) {
	snaps, err := r.store.ListRunningSnapshots(ctx, clientID)
	if err != nil {
		return nil, fmt.Errorf("list running snapshots for %s: %w", clientID, err)
	}
	return snaps, nil
}

// ResetRunning fails every running snapshot of clientID on behalf of actor.
// It is idempotent: a second call finds nothing and returns a zero count.
// An orchestrator still holding one of those snapshots will find its
// finalization rejected and leave the reset in place.
func (r *Recovery) ResetRunning(ctx context.Context, clientID, actor string) (ResetResult, error) {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return ResetResult{}, fmt.Errorf("%w: actor is required", domain.ErrInvalidConfiguration)
	}

	ids, err := r.store.FailRunningSnapshots(ctx, clientID, ResetMessage(actor), r.clock())
	if err != nil {
		return ResetResult{}, fmt.Errorf("reset running snapshots for %s: %w", clientID, err)
	}

	r.observer.SnapshotsReset(ctx, clientID, actor, ids)
	if len(ids) > 0 {
		r.logger.Warn("running snapshots reset",
			zap.String("client_id", clientID),
			zap.String("actor", actor),
			zap.Strings("snapshot_ids", ids))
	} else {
		r.logger.Info("no running snapshots to reset",
			zap.String("client_id", clientID),
			zap.String("actor", actor))
	}

	if ids == nil {
		ids = []string{}
	}
	return ResetResult{Count: len(ids), IDs: ids}, nil
}
