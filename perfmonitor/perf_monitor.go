// Package perfmonitor provides a simple stopwatch for timing operations such as
// a file send or a receive, reported in milliseconds.
package perfmonitor

import (
	"sync"
	"time"
)

// PerformanceMonitor measures the wall-clock time between Start and Stop.
// It is safe for concurrent use.
type PerformanceMonitor struct {
	mu        sync.Mutex
	startTime time.Time
	endTime   time.Time
}

// NewPerformanceMonitor creates a PerformanceMonitor with zero start and end times.
//
// Returns:
//   - A new *PerformanceMonitor
func NewPerformanceMonitor() *PerformanceMonitor {
	return &PerformanceMonitor{}
}

// Start records the current time as the start of the measurement. Calling Start
// again overwrites the previous start time.
func (p *PerformanceMonitor) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.startTime = time.Now()
}

// Stop records the current time as the end of the measurement. It is a no-op
// when Start has not been called. Calling Stop again updates the end time.
func (p *PerformanceMonitor) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.startTime.IsZero() {
		return
	}

	p.endTime = time.Now()
}

// Reset clears both start and end times so the monitor can be reused.
func (p *PerformanceMonitor) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.startTime = time.Time{}
	p.endTime = time.Time{}
}

// ElapsedMilliseconds returns the time between Start and Stop in milliseconds.
//
// Returns:
//   - The elapsed time, or 0 if either Start or Stop has not been called
func (p *PerformanceMonitor) ElapsedMilliseconds() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.startTime.IsZero() || p.endTime.IsZero() {
		return 0
	}

	return float64(p.endTime.Sub(p.startTime)) / float64(time.Millisecond)
}
