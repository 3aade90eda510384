// Package probe periodically checks that the upstream portal is reachable
// and keeps the result for the readiness endpoint.
package probe

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	appLog "calfeed/internal/log"
)

const defaultTimeout = 5 * time.Second

// ErrNoSchedule is returned by Start for an empty schedule. Callers treat
// it as "probe disabled".
var ErrNoSchedule = errors.New("probe schedule is empty")

// Pinger is satisfied by *upstream.Client.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Recorder receives every probe result. *metrics.Service satisfies it.
type Recorder interface {
	SetUpstreamUp(up bool)
}

// Probe runs Ping on a cron schedule. Until the first check completes the
// service reports not ready.
type Probe struct {
	pinger   Pinger
	recorder Recorder
	timeout  time.Duration

	sched *cron.Cron
	ready atomic.Bool

	mu        sync.Mutex
	lastErr   error
	lastCheck time.Time
}

// New builds a Probe. recorder may be nil.
func New(p Pinger, recorder Recorder, timeout time.Duration) *Probe {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Probe{
		pinger:   p,
		recorder: recorder,
		timeout:  timeout,
	}
}

// Start schedules the check with a standard 5-field cron spec and runs one
// check immediately in the background.
func (p *Probe) Start(ctx context.Context, spec string) error {
	if spec == "" {
		return ErrNoSchedule
	}
	sched := cron.New()
	if _, err := sched.AddFunc(spec, func() { p.Check(ctx) }); err != nil {
		return fmt.Errorf("invalid probe schedule %q: %w", spec, err)
	}
	p.sched = sched
	sched.Start()

	go p.Check(ctx)

	appLog.Info("upstream probe started", "schedule", spec)
	return nil
}

// Stop halts the scheduler and waits for a running check to finish.
func (p *Probe) Stop() {
	if p.sched == nil {
		return
	}
	<-p.sched.Stop().Done()
	appLog.Info("upstream probe stopped")
}

// Check pings the upstream once and stores the result.
func (p *Probe) Check(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	err := p.pinger.Ping(ctx)
	up := err == nil

	was := p.ready.Swap(up)
	p.mu.Lock()
	p.lastErr = err
	p.lastCheck = time.Now()
	p.mu.Unlock()

	if p.recorder != nil {
		p.recorder.SetUpstreamUp(up)
	}

	switch {
	case !up:
		appLog.Error("upstream probe failed", err)
	case !was:
		appLog.Info("upstream reachable")
	default:
		appLog.Debug("upstream probe ok")
	}
}

// Ready reports the last probe result.
func (p *Probe) Ready() bool {
	return p.ready.Load()
}

// Last returns the time and error of the most recent check. A zero time
// means no check has completed yet.
func (p *Probe) Last() (time.Time, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastCheck, p.lastErr
}
