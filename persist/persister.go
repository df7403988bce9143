package persist

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/octree-server/octree"
)

// DefaultInterval is the default time between two saves of a dirty tree.
const DefaultInterval = time.Second * 30

// Persister loads a tree from a store at start and saves it periodically
// while it has unsaved changes.
type Persister struct {
	Tree  *octree.Tree
	Store *Store

	// The time between two saves. Zero means DefaultInterval.
	Interval time.Duration

	loaded atomic.Bool
}

// Load restores the latest snapshot of the store into the tree. The initial
// load is complete once it returns, even when it failed, so that clients are
// served whatever could be loaded.
func (p *Persister) Load(ctx context.Context) error {
	defer p.loaded.Store(true)

	start := time.Now()
	snap, ok, err := p.Store.Latest(ctx)
	if err != nil {
		return err
	}
	if !ok {
		logs.WithTag("elements", p.Tree.ElementCount()).
			Info("no snapshot to load")
		return nil
	}

	if err := p.Store.Restore(snap, p.Tree); err != nil {
		return err
	}
	p.Tree.ClearDirty()
	instrumentPersist("load", start)

	logs.WithTag("snapshot_id", snap.ID).
		WithTag("saved_at", snap.SavedAt).
		WithTag("elements", p.Tree.ElementCount()).
		WithTag("duration", time.Since(start)).
		Info("snapshot loaded")
	return nil
}

// IsInitialLoadComplete reports whether Load returned.
func (p *Persister) IsInitialLoadComplete() bool {
	return p.loaded.Load()
}

// Run saves the tree every interval when it changed, and a last time when
// ctx is done.
func (p *Persister) Run(ctx context.Context) {
	interval := p.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := p.Persist(context.Background()); err != nil {
				logs.WithTag("interval", interval).
					Error(errors.New("persisting tree at shutdown failed").Wrap(err))
			}
			return

		case <-ticker.C:
			if err := p.Persist(ctx); err != nil {
				logs.WithTag("interval", interval).
					Error(errors.New("persisting tree failed").Wrap(err))
			}
		}
	}
}

// Persist saves the tree when it has unsaved changes.
func (p *Persister) Persist(ctx context.Context) error {
	if !p.Tree.IsDirty() {
		return nil
	}

	// Edits made while saving mark the tree dirty again.
	p.Tree.ClearDirty()

	start := time.Now()
	snap, err := p.Store.Save(ctx, p.Tree)
	if err != nil {
		p.Tree.SetDirty()
		return err
	}
	instrumentPersist("save", start)

	logs.WithTag("snapshot_id", snap.ID).
		WithTag("elements", snap.Elements).
		WithTag("sections", snap.Sections).
		WithTag("size", len(snap.Data)).
		WithTag("duration", time.Since(start)).
		Debug("snapshot saved")
	return nil
}
