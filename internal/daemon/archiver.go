package daemon

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/Roxonn-FutureTech/github-review-agent/internal/storage"
)

// archiveBatchSize bounds how many reviews one archive pass pushes.
const archiveBatchSize = 100

// Archiver periodically copies completed reviews into the Postgres
// archive. A cursor in the local database tracks the last pushed
// review, so restarts resume where they left off.
type Archiver struct {
	db       *storage.DB
	pg       *storage.PgPool
	interval time.Duration

	stopCh    chan struct{}
	stopOnce  sync.Once
	startOnce sync.Once
	done      chan struct{}
}

// NewArchiver creates an archiver pushing to the given pool.
func NewArchiver(db *storage.DB, pg *storage.PgPool, interval time.Duration) *Archiver {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &Archiver{
		db:       db,
		pg:       pg,
		interval: interval,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start begins the archive loop. Safe to call multiple times.
func (a *Archiver) Start() {
	a.startOnce.Do(func() {
		log.Printf("Starting review archiver (interval %s)", a.interval)
		go a.run()
	})
}

// Stop halts the archive loop and waits for an in-flight pass to finish.
func (a *Archiver) Stop() {
	a.stopOnce.Do(func() {
		close(a.stopCh)
		<-a.done
	})
}

func (a *Archiver) run() {
	defer close(a.done)

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-a.stopCh:
			return
		case <-ticker.C:
			if err := a.RunOnce(context.Background()); err != nil {
				log.Printf("Archiver: pass failed: %v", err)
			}
		}
	}
}

// RunOnce pushes all unarchived reviews, advancing the cursor after
// each successful review so a failure never re-sends earlier ones.
func (a *Archiver) RunOnce(ctx context.Context) error {
	for {
		cursor, err := a.db.GetArchiveCursor()
		if err != nil {
			return err
		}

		reviews, err := a.db.ListReviewsAfter(cursor, archiveBatchSize)
		if err != nil {
			return err
		}
		if len(reviews) == 0 {
			return nil
		}

		for i := range reviews {
			rv := &reviews[i]
			if err := a.pg.ArchiveReview(ctx, rv.Job, rv, rv.Findings); err != nil {
				return err
			}
			if err := a.db.SetArchiveCursor(rv.ID); err != nil {
				return err
			}
		}

		if len(reviews) < archiveBatchSize {
			return nil
		}
	}
}
