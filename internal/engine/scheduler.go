package engine

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
)

// TickReport describes one scheduler tick.
type TickReport struct {
	Reaped   int            `json:"reaped"`
	Requeued int            `json:"requeued"`
	Drains   []*DrainResult `json:"drains"`
	Errors   []string       `json:"errors,omitempty"`
}

// Scheduler periodically reaps stuck jobs, requeues transient failures and
// drains every twin with queued work. Tick can also be called directly.
type Scheduler struct {
	queue    *Queue
	interval time.Duration

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
	ticking sync.Mutex

	onTick func(*TickReport)
}

// NewScheduler creates a scheduler. A zero interval uses the queue's TickInterval.
func NewScheduler(queue *Queue, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = queue.Config().TickInterval
	}
	return &Scheduler{queue: queue, interval: interval}
}

// SetOnTick sets a callback that receives every tick report.
func (s *Scheduler) SetOnTick(callback func(*TickReport)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onTick = callback
}

// Tick runs one scheduling pass. Ticks never overlap: a Tick called while
// another is running waits for it.
func (s *Scheduler) Tick(ctx context.Context) *TickReport {
	s.ticking.Lock()
	defer s.ticking.Unlock()

	report := &TickReport{Drains: []*DrainResult{}}

	reaped, err := s.queue.ReapStuck(ctx)
	if err != nil {
		report.Errors = append(report.Errors, err.Error())
	}
	report.Reaped = reaped

	requeued, err := s.queue.RequeueTransient(ctx)
	if err != nil {
		report.Errors = append(report.Errors, err.Error())
	}
	report.Requeued = requeued

	twins, err := s.queue.TwinsWithQueuedJobs(ctx)
	if err != nil {
		report.Errors = append(report.Errors, err.Error())
	}
	for _, twinID := range twins {
		if ctx.Err() != nil {
			break
		}
		res, err := s.queue.Drain(ctx, twinID)
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("drain %s: %v", twinID, err))
			continue
		}
		report.Drains = append(report.Drains, res)
	}

	for _, e := range report.Errors {
		log.Printf("ERROR: scheduler: %s", e)
	}

	s.mu.Lock()
	callback := s.onTick
	s.mu.Unlock()
	if callback != nil {
		callback(report)
	}
	return report
}

// Start runs Tick every interval until Stop is called or ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler already started")
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true

	go s.loop(runCtx, s.done)
	log.Printf("scheduler: started with interval %s", s.interval)
	return nil
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Stop cancels the loop and waits for a running tick to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()
	<-done
	log.Println("scheduler: stopped")
}
