// Package progress renders a single-line progress display for long batch
// runs, driven by the orchestrator's completion observer.
package progress

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// Tracker accumulates completion counts and redraws a progress line,
// throttled to avoid flooding the terminal.
type Tracker struct {
	total     int
	completed int
	failed    int
	startTime time.Time
	lastDraw  time.Time
	mu        sync.Mutex
	writer    io.Writer
	enabled   bool
}

// New creates a tracker. A disabled tracker counts but never draws.
func New(total int, writer io.Writer, enabled bool) *Tracker {
	return &Tracker{
		total:     total,
		startTime: time.Now(),
		writer:    writer,
		enabled:   enabled,
	}
}

// Update records one completed host.
func (p *Tracker) Update(success bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if success {
		p.completed++
	} else {
		p.failed++
	}
	if p.enabled {
		p.draw()
	}
}

// Finish clears the progress line and prints the closing summary.
func (p *Tracker) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.enabled {
		return
	}
	done := p.completed + p.failed
	elapsed := time.Since(p.startTime).Round(time.Second)

	fmt.Fprintf(p.writer, "\r%80s\r", "")
	if p.failed == 0 {
		fmt.Fprintf(p.writer, "completed %d/%d hosts in %v\n", p.completed, p.total, elapsed)
	} else {
		fmt.Fprintf(p.writer, "completed %d/%d hosts (%d ok, %d failed) in %v\n",
			done, p.total, p.completed, p.failed, elapsed)
	}
}

func (p *Tracker) draw() {
	now := time.Now()
	if now.Sub(p.lastDraw) < 100*time.Millisecond {
		return
	}
	p.lastDraw = now

	done := p.completed + p.failed
	if p.total == 0 {
		return
	}
	elapsed := now.Sub(p.startTime)

	eta := "..."
	if done > 0 {
		remaining := time.Duration(p.total-done) * (elapsed / time.Duration(done))
		eta = remaining.Round(time.Second).String()
	}

	fmt.Fprintf(p.writer, "\r%d/%d hosts  ok:%d fail:%d  [%v]  eta %s",
		done, p.total, p.completed, p.failed, elapsed.Round(time.Second), eta)
}

// Counts returns the current tallies.
func (p *Tracker) Counts() (completed, failed, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.completed, p.failed, p.total
}
