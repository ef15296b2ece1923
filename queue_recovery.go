package settlr

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/settlr/settlr/config"
	"github.com/settlr/settlr/model"
)

// StalledIntentRecoveryProcessor re-drives intents whose queue task was
// lost (enqueue failure, broker wipe, crash between ledger write and
// enqueue). It scans for non-terminal intents that have not been
// touched for the stuck threshold and re-enqueues the appropriate step:
// submit for PENDING, poll for SUBMITTED. It never resubmits a
// SUBMITTED intent.
type StalledIntentRecoveryProcessor struct {
	settlr       *Settlr
	batchSize    int
	maxWorkers   int
	pollInterval time.Duration
	stopCh       chan struct{}
	wg           sync.WaitGroup
	running      bool
	mu           sync.Mutex
}

func NewStalledIntentRecoveryProcessor(settlr *Settlr) *StalledIntentRecoveryProcessor {
	maxWorkers := 10
	return &StalledIntentRecoveryProcessor{
		settlr:       settlr,
		batchSize:    maxWorkers * 100,
		maxWorkers:   maxWorkers,
		pollInterval: 30 * time.Second,
		stopCh:       make(chan struct{}),
	}
}

func (p *StalledIntentRecoveryProcessor) Start(ctx context.Context) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.run(ctx)
	}()

	logrus.Info("Stalled intent recovery processor started")
}

func (p *StalledIntentRecoveryProcessor) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stopCh)
	p.mu.Unlock()

	p.wg.Wait()
	logrus.Info("Stalled intent recovery processor stopped")
}

func (p *StalledIntentRecoveryProcessor) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *StalledIntentRecoveryProcessor) run(ctx context.Context) {
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logrus.Info("Stalled intent recovery processor context cancelled")
			return
		case <-p.stopCh:
			logrus.Info("Stalled intent recovery processor stop signal received")
			return
		case <-ticker.C:
			p.processBatch(ctx)
		}
	}
}

func (p *StalledIntentRecoveryProcessor) processBatch(ctx context.Context) {
	cnf, err := config.Fetch()
	if err != nil {
		logrus.Errorf("failed to fetch config for recovery: %v", err)
		return
	}
	threshold := time.Duration(cnf.Retry.StuckMinutes) * time.Minute
	p.recoverWithThreshold(ctx, threshold)
}

// RecoverStalledIntents triggers an immediate recovery pass using the
// provided threshold. Exposed for the manual trigger API endpoint.
func (s *Settlr) RecoverStalledIntents(ctx context.Context, threshold time.Duration) (int, error) {
	if threshold < 2*time.Minute {
		threshold = 2 * time.Minute
	}

	processor := NewStalledIntentRecoveryProcessor(s)
	return processor.recoverWithThreshold(ctx, threshold), nil
}

func (p *StalledIntentRecoveryProcessor) recoverWithThreshold(ctx context.Context, threshold time.Duration) int {
	cutoff := time.Now().Add(-threshold)
	stale, err := p.settlr.datasource.GetResumableIntents(ctx, cutoff, p.batchSize)
	if err != nil {
		logrus.Errorf("failed to get resumable intents: %v", err)
		return 0
	}

	if len(stale) == 0 {
		return 0
	}

	logrus.Infof("Recovering %d stalled intents with %d workers (threshold=%v)", len(stale), p.maxWorkers, threshold)

	sem := make(chan struct{}, p.maxWorkers)
	var batchWg sync.WaitGroup

	for i := range stale {
		intent := &stale[i]
		sem <- struct{}{}
		batchWg.Add(1)
		go func(in *model.PaymentIntent) {
			defer batchWg.Done()
			defer func() { <-sem }()
			if err := p.recoverIntent(ctx, in); err != nil {
				logrus.Errorf("failed to recover intent %s: %v", in.IntentID, err)
			}
		}(intent)
	}

	batchWg.Wait()
	return len(stale)
}

func (p *StalledIntentRecoveryProcessor) recoverIntent(ctx context.Context, intent *model.PaymentIntent) error {
	switch intent.Status {
	case model.StatusPending:
		// Resubmission is safe even if a previous submit reached the
		// backend: the idempotency token makes it the same logical
		// operation.
		err := p.settlr.queue.EnqueueSubmitRetry(ctx, intent, intent.Attempts, 0)
		if err == nil {
			recoveredIntents.Inc()
		}
		return err
	case model.StatusSubmitted:
		err := p.settlr.queue.EnqueuePoll(ctx, intent, intent.Attempts, 0)
		if err == nil {
			recoveredIntents.Inc()
		}
		return err
	default:
		return nil
	}
}
