package challenge

import (
	"context"
	"sync"
	"time"

	"github.com/arguslabs/argus-store/internal/placement"
	"github.com/arguslabs/argus-store/pkg/contentid"
	"github.com/sirupsen/logrus"
)

// Scheduler runs a challenge round for every tracked placement whenever
// the external clock ticks. The core never polls wall-clock time itself;
// new rounds are discrete events delivered on the tick channel.
type Scheduler struct {
	manager *Manager
	tracker *placement.Tracker
	log     *logrus.Logger
}

// NewScheduler creates a scheduler over the given manager.
func NewScheduler(manager *Manager, tracker *placement.Tracker, log *logrus.Logger) *Scheduler {
	if log == nil {
		log = logrus.New()
	}
	return &Scheduler{manager: manager, tracker: tracker, log: log}
}

// Run consumes ticks until the context is canceled. Each tick challenges
// every (item, provider) pair; distinct pairs run concurrently, while the
// per-pair sequencing in the manager keeps individual chains race-free.
func (s *Scheduler) Run(ctx context.Context, ticks <-chan time.Time) {
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-ticks:
			if !ok {
				return
			}
			s.runRound(ctx)
		}
	}
}

func (s *Scheduler) runRound(ctx context.Context) {
	cids, err := s.tracker.List()
	if err != nil {
		s.log.Errorf("Listing placements for challenge round: %v", err)
		return
	}

	var wg sync.WaitGroup
	for _, cid := range cids {
		record, err := s.tracker.Get(cid)
		if err != nil {
			s.log.Warnf("Loading record %s: %v", cid.Short(), err)
			continue
		}
		for _, provider := range record.Providers {
			wg.Add(1)
			go func(cid contentid.ContentID, provider string) {
				defer wg.Done()
				s.manager.Challenge(ctx, cid, provider)
			}(record.ContentID, provider)
		}
	}
	wg.Wait()
}
