// Package reveal paces how fast available answer text is exposed, so bursty
// arrival does not make the visible text jump.
package reveal

import (
	"context"
	"sync"
	"time"
)

const (
	DefaultInterval     = 30 * time.Millisecond
	DefaultCharsPerTick = 3
)

// Scheduler advances a monotonic revealed length toward a target on its own
// clock. It only ever writes its own counter.
type Scheduler struct {
	interval  time.Duration
	step      int
	onAdvance func(revealed int)

	mu       sync.Mutex
	revealed int
	target   int
	final    bool
	started  bool
	stopped  bool
	cancel   context.CancelFunc
	done     chan struct{}
	wake     chan struct{}
}

// New creates a scheduler. onAdvance, if set, is called from the tick
// goroutine after every change of the revealed length.
func New(interval time.Duration, charsPerTick int, onAdvance func(revealed int)) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if charsPerTick <= 0 {
		charsPerTick = DefaultCharsPerTick
	}
	return &Scheduler{
		interval:  interval,
		step:      charsPerTick,
		onAdvance: onAdvance,
		done:      make(chan struct{}),
		wake:      make(chan struct{}, 1),
	}
}

// Start launches the tick loop. It is a no-op after Stop or a previous Start.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started || s.stopped {
		s.mu.Unlock()
		return
	}
	s.started = true
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	go s.loop(ctx)
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		revealed, moved, finished := s.advance()
		if moved && s.onAdvance != nil && ctx.Err() == nil {
			s.onAdvance(revealed)
		}
		if finished {
			return
		}
		if !moved {
			// Idle until the target grows instead of spinning on the ticker.
			select {
			case <-ctx.Done():
				return
			case <-s.wake:
			}
		}
	}
}

// SetTarget updates the length the scheduler moves toward. final marks the
// target as authoritative; the loop exits once it has been fully revealed.
// A shrinking target clamps the revealed length down to it.
func (s *Scheduler) SetTarget(n int, final bool) {
	if n < 0 {
		n = 0
	}
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.target = n
	s.final = s.final || final
	if s.revealed > n {
		s.revealed = n
	}
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// tick advances the counter by one step, outside of the clock.
func (s *Scheduler) tick() int {
	revealed, _, _ := s.advance()
	return revealed
}

func (s *Scheduler) advance() (revealed int, moved, finished bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return s.revealed, false, true
	}
	if s.revealed < s.target {
		s.revealed += s.step
		if s.revealed > s.target {
			s.revealed = s.target
		}
		moved = true
	}
	finished = s.final && s.revealed >= s.target
	return s.revealed, moved, finished
}

// Revealed returns the current revealed length.
func (s *Scheduler) Revealed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.revealed
}

// Stop cancels the tick loop and waits for it to exit. Later calls to Start
// and SetTarget have no effect.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	started := s.started
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if started {
		<-s.done
	}
}

// Done is closed when the tick loop exits.
func (s *Scheduler) Done() <-chan struct{} {
	return s.done
}
