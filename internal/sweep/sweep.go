// Package sweep periodically clears stale per-job scratch directories that
// survived a crash or a killed subprocess invocation without running their
// deferred cleanup. Grounded on SPEC_FULL.md §1.2's domain-stack binding of
// robfig/cron/v3 (present in the teacher's indirect dependency graph, never
// itself exercised) to a scratch-dir sweep job.
package sweep

import (
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"
)

// Sweeper removes job scratch directories under root older than maxAge.
type Sweeper struct {
	root   string
	maxAge time.Duration
	cron   *cron.Cron
}

// New builds a Sweeper rooted at the worker's temp directory.
func New(root string, maxAge time.Duration) *Sweeper {
	return &Sweeper{root: root, maxAge: maxAge, cron: cron.New()}
}

// Start schedules the sweep on the given cron spec (e.g. "0 * * * *" for
// hourly) and returns immediately; the cron library runs it in its own
// goroutine.
func (s *Sweeper) Start(spec string) error {
	_, err := s.cron.AddFunc(spec, s.sweepOnce)
	if err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

// Stop halts the scheduler, waiting for any in-flight sweep to finish.
func (s *Sweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

func (s *Sweeper) sweepOnce() {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		log.Printf("sweep: reading scratch root %s: %v", s.root, err)
		return
	}

	cutoff := time.Now().Add(-s.maxAge)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}

		path := filepath.Join(s.root, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			log.Printf("sweep: removing stale scratch dir %s: %v", path, err)
			continue
		}
		log.Printf("sweep: removed stale scratch dir %s", path)
	}
}
