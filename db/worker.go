package db

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/maxBogovick/memodb/core"
)

// SnapshotWorker periodically checkpoints the engine and vacuums dead row
// versions. It takes the shared lock to walk the catalog and the
// exclusive lock only for the vacuum rewrite, so readers keep running
// while the snapshot file is written.
type SnapshotWorker struct {
	cancel context.CancelFunc
	group  *errgroup.Group
}

// StartSnapshotWorker launches the background checkpoint/vacuum loop.
// Persistence must be enabled first.
func (e *Engine) StartSnapshotWorker(interval time.Duration) (*SnapshotWorker, error) {
	if e.log() == nil {
		return nil, core.Errorf(core.KindExecution, "persistence is not enabled")
	}
	if interval <= 0 {
		interval = time.Minute
	}

	ctx, cancel := context.WithCancel(context.Background())
	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if err := e.Checkpoint(); err != nil {
					log.WithError(err).Warn("background checkpoint failed")
					continue
				}
				freed := e.Vacuum()
				log.WithField("freed", freed).Debug("background snapshot cycle complete")
			}
		}
	})

	return &SnapshotWorker{cancel: cancel, group: group}, nil
}

// Stop ends the loop and waits for an in-flight cycle to finish.
func (w *SnapshotWorker) Stop() {
	w.cancel()
	_ = w.group.Wait()
}
