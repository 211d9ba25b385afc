package registry

import (
	"sync"
	"time"

	"KeyShift/logger"
	"KeyShift/model"
)

// SweepFunc observes the result of one sweep. Used for metrics.
type SweepFunc func(evicted []model.TrackID, remaining int)

// Sweeper periodically evicts registry entries older than MaxAge. It runs on
// its own ticker, independent of request handling.
type Sweeper struct {
	registry *Registry
	clock    Clock
	interval time.Duration
	maxAge   time.Duration
	onSweep  SweepFunc

	// tick replaces the ticker channel in tests.
	tick <-chan time.Time

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewSweeper creates a sweeper for r. A nil clock means the system clock.
func NewSweeper(r *Registry, clock Clock, interval, maxAge time.Duration) *Sweeper {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Sweeper{
		registry: r,
		clock:    clock,
		interval: interval,
		maxAge:   maxAge,
		stopChan: make(chan struct{}),
	}
}

// OnSweep registers fn to be called after every sweep.
func (s *Sweeper) OnSweep(fn SweepFunc) {
	s.onSweep = fn
}

// Start launches the background loop.
func (s *Sweeper) Start() {
	logger.Info("cache sweeper started",
		logger.Duration("interval", s.interval),
		logger.Duration("maxAge", s.maxAge))

	tick := s.tick
	var ticker *time.Ticker
	if tick == nil {
		ticker = time.NewTicker(s.interval)
		tick = ticker.C
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if ticker != nil {
			defer ticker.Stop()
		}
		for {
			select {
			case <-s.stopChan:
				return
			case <-tick:
				s.SweepOnce()
			}
		}
	}()
}

// SweepOnce evicts expired entries using the sweeper's clock.
func (s *Sweeper) SweepOnce() []model.TrackID {
	evicted := s.registry.EvictExpired(s.clock.Now(), s.maxAge)
	remaining := s.registry.Len()
	if len(evicted) > 0 {
		logger.Info("cache sweep finished",
			logger.Int("evicted", len(evicted)),
			logger.Int("remaining", remaining))
	}
	if s.onSweep != nil {
		s.onSweep(evicted, remaining)
	}
	return evicted
}

// Stop ends the loop and waits for an in-flight sweep to finish.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
	})
	s.wg.Wait()
	logger.Info("cache sweeper stopped")
}
