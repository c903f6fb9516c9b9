package client

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/joescharf/codecli/internal/models"
)

// ErrPollTimeout is reported when a reply stays pending past the attempt cap.
var ErrPollTimeout = errors.New("the reply is taking longer than expected")

// Defaults for Poller.
const (
	DefaultPollInterval    = 2 * time.Second
	DefaultPollMaxAttempts = 150
)

// Fetcher loads the authoritative state of a session. *Client implements it.
type Fetcher interface {
	GetSession(ctx context.Context, id string) (*models.SessionWithMessages, error)
}

// PollerConfig configures a Poller. Hooks run on the poller's goroutine and
// must not call Switch or Stop.
type PollerConfig struct {
	Interval    time.Duration
	MaxAttempts int

	// OnUpdate receives every fetch for the observed session.
	OnUpdate func(detail *models.SessionWithMessages)
	// OnGiveUp is called once with ErrPollTimeout when the cap is reached.
	OnGiveUp func(sessionID string, err error)
	// OnError receives fetch failures; polling continues until the cap.
	OnError func(sessionID string, err error)
}

// Poller re-fetches a session while it has a pending reply. At most one
// timer is armed at a time, and a generation counter discards ticks that
// belong to a session the poller has since switched away from.
type Poller struct {
	fetch Fetcher
	cfg   PollerConfig

	ctx    context.Context
	cancel context.CancelFunc

	// deliver serializes hook delivery with Switch and Stop.
	deliver sync.Mutex

	mu        sync.Mutex
	gen       uint64
	sessionID string
	attempts  int
	timer     *time.Timer
	stopped   bool
	ticks     sync.WaitGroup
}

// NewPoller creates an idle poller.
func NewPoller(fetch Fetcher, cfg PollerConfig) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultPollInterval
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultPollMaxAttempts
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Poller{fetch: fetch, cfg: cfg, ctx: ctx, cancel: cancel}
}

// Observe reacts to a fetched session. Any armed timer is cancelled; a new
// one is armed only if detail still has a pending reply.
func (p *Poller) Observe(sessionID string, detail *models.SessionWithMessages) {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	if sessionID != p.sessionID {
		p.gen++
		p.sessionID = sessionID
		p.attempts = 0
	}
	p.stopTimerLocked()

	if !detail.HasPending() {
		p.attempts = 0
		p.mu.Unlock()
		return
	}
	if p.attempts >= p.cfg.MaxAttempts {
		p.attempts = 0
		p.mu.Unlock()
		if p.cfg.OnGiveUp != nil {
			p.cfg.OnGiveUp(sessionID, ErrPollTimeout)
		}
		return
	}
	p.attempts++
	p.armLocked()
	p.mu.Unlock()
}

// Switch moves the poller to another session without polling it yet.
// Results for the previous session are never delivered after Switch returns.
func (p *Poller) Switch(sessionID string) {
	p.deliver.Lock()
	defer p.deliver.Unlock()
	p.mu.Lock()
	defer p.mu.Unlock()
	p.gen++
	p.sessionID = sessionID
	p.attempts = 0
	p.stopTimerLocked()
}

// Stop cancels polling for good and waits for an in-flight tick to return.
func (p *Poller) Stop() {
	p.deliver.Lock()
	p.mu.Lock()
	p.stopped = true
	p.gen++
	p.stopTimerLocked()
	p.mu.Unlock()
	p.deliver.Unlock()

	p.cancel()
	p.ticks.Wait()
}

// Active reports whether a re-fetch is scheduled.
func (p *Poller) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.timer != nil
}

func (p *Poller) armLocked() {
	gen, sessionID := p.gen, p.sessionID
	p.ticks.Add(1)
	p.timer = time.AfterFunc(p.cfg.Interval, func() {
		defer p.ticks.Done()
		p.tick(gen, sessionID)
	})
}

func (p *Poller) stopTimerLocked() {
	if p.timer == nil {
		return
	}
	if p.timer.Stop() {
		p.ticks.Done()
	}
	p.timer = nil
}

func (p *Poller) current(gen uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.stopped && gen == p.gen
}

func (p *Poller) tick(gen uint64, sessionID string) {
	p.mu.Lock()
	if p.stopped || gen != p.gen {
		p.mu.Unlock()
		return
	}
	p.timer = nil
	p.mu.Unlock()

	detail, err := p.fetch.GetSession(p.ctx, sessionID)

	p.deliver.Lock()
	defer p.deliver.Unlock()
	if !p.current(gen) {
		return
	}

	if err != nil {
		if p.cfg.OnError != nil {
			p.cfg.OnError(sessionID, err)
		}
		p.retry(gen)
		return
	}

	if p.cfg.OnUpdate != nil {
		p.cfg.OnUpdate(detail)
	}
	p.Observe(sessionID, detail)
}

// retry re-arms after a failed fetch, counting it against the cap.
func (p *Poller) retry(gen uint64) {
	p.mu.Lock()
	if p.stopped || gen != p.gen || p.timer != nil {
		p.mu.Unlock()
		return
	}
	if p.attempts >= p.cfg.MaxAttempts {
		sessionID := p.sessionID
		p.attempts = 0
		p.mu.Unlock()
		if p.cfg.OnGiveUp != nil {
			p.cfg.OnGiveUp(sessionID, ErrPollTimeout)
		}
		return
	}
	p.attempts++
	p.armLocked()
	p.mu.Unlock()
}
