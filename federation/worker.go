package federation

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// ResyncWorker periodically retries posts with undelivered changes.
type ResyncWorker struct {
	sync    *Synchronizer
	cron    *cron.Cron
	batch   int
	timeout time.Duration
}

// NewResyncWorker schedules sweeps of up to batch posts. schedule uses cron
// syntax or descriptors such as "@every 5m".
func NewResyncWorker(s *Synchronizer, schedule string, batch int, timeout time.Duration) (*ResyncWorker, error) {
	w := &ResyncWorker{
		sync:    s,
		cron:    cron.New(cron.WithLogger(cron.PrintfLogger(&log.Logger)), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		batch:   batch,
		timeout: timeout,
	}
	if _, err := w.cron.AddFunc(schedule, w.sweep); err != nil {
		return nil, fmt.Errorf("invalid resync schedule %q: %w", schedule, err)
	}
	return w, nil
}

func (w *ResyncWorker) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()
	if _, err := w.sync.Resync(ctx, w.batch); err != nil {
		log.Error().Err(err).Msg("Resync sweep failed")
	}
}

func (w *ResyncWorker) Start() {
	log.Info().Int("batch", w.batch).Msg("Starting resync worker")
	w.cron.Start()
}

// Stop halts scheduling and waits for a running sweep to finish.
func (w *ResyncWorker) Stop() {
	<-w.cron.Stop().Done()
}
