package client

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/joescharf/codecli/internal/models"
)

func pendingDetail(id string) *models.SessionWithMessages {
	return &models.SessionWithMessages{
		Session: models.Session{ID: id},
		Messages: []*models.Message{
			{ID: "u1", Role: models.RoleUser, Content: "Hello"},
			{ID: "a1", Role: models.RoleAI, Content: models.PendingContent},
		},
	}
}

func resolvedDetail(id, answer string) *models.SessionWithMessages {
	return &models.SessionWithMessages{
		Session: models.Session{ID: id},
		Messages: []*models.Message{
			{ID: "u1", Role: models.RoleUser, Content: "Hello"},
			{ID: "a1", Role: models.RoleAI, Content: answer},
		},
	}
}

type fetchResult struct {
	detail *models.SessionWithMessages
	err    error
}

// scriptedFetcher replays results per session; the last one repeats.
type scriptedFetcher struct {
	mu      sync.Mutex
	script  map[string][]fetchResult
	calls   map[string]int
	started chan string
	release chan struct{}
}

func newScriptedFetcher() *scriptedFetcher {
	return &scriptedFetcher{script: map[string][]fetchResult{}, calls: map[string]int{}}
}

func (f *scriptedFetcher) add(id string, results ...fetchResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.script[id] = append(f.script[id], results...)
}

func (f *scriptedFetcher) GetSession(ctx context.Context, id string) (*models.SessionWithMessages, error) {
	f.mu.Lock()
	n := f.calls[id]
	f.calls[id]++
	results := f.script[id]
	started, release := f.started, f.release
	f.mu.Unlock()

	if started != nil {
		started <- id
	}
	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if len(results) == 0 {
		return nil, errors.New("no script")
	}
	if n >= len(results) {
		n = len(results) - 1
	}
	return results[n].detail, results[n].err
}

func (f *scriptedFetcher) count(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[id]
}

func TestPoller_NoPendingArmsNothing(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newScriptedFetcher()
	p := NewPoller(f, PollerConfig{Interval: time.Millisecond})
	defer p.Stop()

	p.Observe("s1", resolvedDetail("s1", "done"))
	assert.False(t, p.Active())
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 0, f.count("s1"))
}

func TestPoller_PollsUntilResolved(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newScriptedFetcher()
	f.add("s1", fetchResult{detail: pendingDetail("s1")}, fetchResult{detail: resolvedDetail("s1", "Hi there")})

	updates := make(chan *models.SessionWithMessages, 4)
	p := NewPoller(f, PollerConfig{
		Interval: 5 * time.Millisecond,
		OnUpdate: func(d *models.SessionWithMessages) { updates <- d },
	})
	defer p.Stop()

	p.Observe("s1", pendingDetail("s1"))
	assert.True(t, p.Active())

	first := <-updates
	assert.True(t, first.HasPending())
	second := <-updates
	assert.False(t, second.HasPending())
	assert.Equal(t, "Hi there", second.Messages[1].Content)

	assert.Eventually(t, func() bool { return !p.Active() }, time.Second, time.Millisecond)
	assert.Equal(t, 2, f.count("s1"))
}

func TestPoller_GivesUpAfterMaxAttempts(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newScriptedFetcher()
	f.add("s1", fetchResult{detail: pendingDetail("s1")})

	gaveUp := make(chan error, 1)
	p := NewPoller(f, PollerConfig{
		Interval:    2 * time.Millisecond,
		MaxAttempts: 3,
		OnGiveUp:    func(_ string, err error) { gaveUp <- err },
	})
	defer p.Stop()

	p.Observe("s1", pendingDetail("s1"))

	select {
	case err := <-gaveUp:
		assert.ErrorIs(t, err, ErrPollTimeout)
	case <-time.After(2 * time.Second):
		t.Fatal("poller never gave up")
	}
	assert.False(t, p.Active())
	assert.Equal(t, 3, f.count("s1"))
}

func TestPoller_SwitchDropsStaleResult(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newScriptedFetcher()
	f.add("a", fetchResult{detail: resolvedDetail("a", "stale")})
	f.started = make(chan string, 1)
	f.release = make(chan struct{})

	var mu sync.Mutex
	var delivered []*models.SessionWithMessages
	p := NewPoller(f, PollerConfig{
		Interval: time.Millisecond,
		OnUpdate: func(d *models.SessionWithMessages) {
			mu.Lock()
			delivered = append(delivered, d)
			mu.Unlock()
		},
	})

	p.Observe("a", pendingDetail("a"))
	require.Equal(t, "a", <-f.started)

	p.Switch("b")
	close(f.release)
	p.Stop()

	mu.Lock()
	defer mu.Unlock()
	assert.Empty(t, delivered, "result for the previous session must not be delivered")
}

func TestPoller_StopCancelsTimer(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newScriptedFetcher()
	p := NewPoller(f, PollerConfig{Interval: time.Hour})

	p.Observe("s1", pendingDetail("s1"))
	require.True(t, p.Active())

	p.Stop()
	assert.False(t, p.Active())
	assert.Equal(t, 0, f.count("s1"))

	// Observing after Stop is ignored.
	p.Observe("s1", pendingDetail("s1"))
	assert.False(t, p.Active())
}

func TestPoller_AtMostOneTimer(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newScriptedFetcher()
	f.add("s1", fetchResult{detail: resolvedDetail("s1", "ok")})

	updates := make(chan struct{}, 8)
	p := NewPoller(f, PollerConfig{
		Interval: 10 * time.Millisecond,
		OnUpdate: func(*models.SessionWithMessages) { updates <- struct{}{} },
	})
	defer p.Stop()

	for range 5 {
		p.Observe("s1", pendingDetail("s1"))
	}
	<-updates
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, f.count("s1"))
}

func TestPoller_FetchErrorKeepsPolling(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newScriptedFetcher()
	f.add("s1",
		fetchResult{err: errors.New("connection refused")},
		fetchResult{detail: resolvedDetail("s1", "ok")},
	)

	errs := make(chan error, 1)
	updates := make(chan *models.SessionWithMessages, 1)
	p := NewPoller(f, PollerConfig{
		Interval: 2 * time.Millisecond,
		OnError:  func(_ string, err error) { errs <- err },
		OnUpdate: func(d *models.SessionWithMessages) { updates <- d },
	})
	defer p.Stop()

	p.Observe("s1", pendingDetail("s1"))

	assert.EqualError(t, <-errs, "connection refused")
	d := <-updates
	assert.False(t, d.HasPending())
}

func TestPoller_ObserveOtherSessionResetsAttempts(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newScriptedFetcher()
	p := NewPoller(f, PollerConfig{Interval: time.Hour, MaxAttempts: 1})
	defer p.Stop()

	p.Observe("a", pendingDetail("a"))
	assert.True(t, p.Active())

	p.Observe("b", pendingDetail("b"))
	assert.True(t, p.Active(), "a new session starts with a fresh attempt budget")
}
