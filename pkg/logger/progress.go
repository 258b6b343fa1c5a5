package logger

import (
	"sync"
	"time"
)

// ProgressTracker logs periodic progress while a run works through a long
// statement. Safe for concurrent use, although the run loop itself is
// sequential.
type ProgressTracker struct {
	logger      Logger
	operation   string
	total       int64
	current     int64
	startTime   time.Time
	lastLogTime time.Time
	logInterval time.Duration
	mu          sync.Mutex
}

// NewProgressTracker creates a tracker for an operation over total items.
// A zero interval defaults to five seconds.
func NewProgressTracker(log Logger, operation string, total int64, interval time.Duration) *ProgressTracker {
	if log == nil {
		log = GetGlobalLogger()
	}
	if interval == 0 {
		interval = 5 * time.Second
	}
	now := time.Now()
	return &ProgressTracker{
		logger:      log.WithComponent("progress"),
		operation:   operation,
		total:       total,
		startTime:   now,
		lastLogTime: now,
		logInterval: interval,
	}
}

// Increment advances the counter by one row.
func (p *ProgressTracker) Increment() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.current++
	now := time.Now()
	if now.Sub(p.lastLogTime) >= p.logInterval {
		p.log(now)
		p.lastLogTime = now
	}
}

// Done logs the final count and elapsed time.
func (p *ProgressTracker) Done() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.logger.WithFields(Fields{
		"operation": p.operation,
		"processed": p.current,
		"total":     p.total,
		"elapsed":   time.Since(p.startTime).Round(time.Millisecond).String(),
	}).Info("Operation complete")
}

func (p *ProgressTracker) log(now time.Time) {
	fields := Fields{
		"operation": p.operation,
		"processed": p.current,
		"elapsed":   now.Sub(p.startTime).Round(time.Second).String(),
	}
	if p.total > 0 {
		fields["total"] = p.total
		fields["percent"] = float64(p.current) / float64(p.total) * 100
	}
	p.logger.WithFields(fields).Info("Progress")
}
