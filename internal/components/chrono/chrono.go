package chrono

import (
	"context"
	"sync"
	"time"
)

// API is what anything that needs the current time or needs to wait should depend on,
// so tests can control both.
type API interface {
	Now() time.Time
	// Sleep blocks for d or until ctx is done, whichever comes first.
	Sleep(ctx context.Context, d time.Duration) error
}

// StandardImpl is the wall clock.
type StandardImpl struct{}

func NewStandardImpl() StandardImpl {
	return StandardImpl{}
}

func (StandardImpl) Now() time.Time {
	return time.Now()
}

func (StandardImpl) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ManualImpl is a clock that only moves when told to. Sleep advances the clock
// instead of blocking and records the requested durations.
type ManualImpl struct {
	mutex  sync.Mutex
	now    time.Time
	slept  []time.Duration
	frozen bool
}

func NewManualImpl(start time.Time) *ManualImpl {
	return &ManualImpl{now: start}
}

func (m *ManualImpl) Now() time.Time {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.now
}

func (m *ManualImpl) Advance(d time.Duration) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.now = m.now.Add(d)
}

// Freeze makes Sleep stop advancing the clock.
func (m *ManualImpl) Freeze() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.frozen = true
}

func (m *ManualImpl) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.slept = append(m.slept, d)
	if !m.frozen {
		m.now = m.now.Add(d)
	}
	return nil
}

// Slept returns every duration passed to Sleep so far.
func (m *ManualImpl) Slept() []time.Duration {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	out := make([]time.Duration, len(m.slept))
	copy(out, m.slept)
	return out
}
