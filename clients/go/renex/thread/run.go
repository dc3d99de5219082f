package thread

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
)

// SetVisible tells the session whether its view is on screen. Polling is
// paused while hidden and resumes with an immediate poll when shown again.
func (s *Session) SetVisible(visible bool) {
	s.mu.Lock()
	changed := s.visible != visible
	if changed && visible {
		s.resumed = true
	}
	s.visible = visible
	s.mu.Unlock()

	if !changed {
		return
	}
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// takeVisibility returns the visibility and whether the view was shown
// again since the last call.
func (s *Session) takeVisibility() (visible, resumed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	resumed = s.resumed
	s.resumed = false
	return s.visible, resumed
}

// Run loads the thread and polls it until ctx is cancelled or the session is
// closed. It returns nil after Close, ctx.Err() on cancellation and the
// first authentication error reported by a poll.
func (s *Session) Run(ctx context.Context) error {
	var ticker clockwork.Ticker
	stop := func() {
		if ticker != nil {
			ticker.Stop()
			ticker = nil
		}
	}
	defer stop()

	start := func() error {
		if err := s.Poll(ctx); err != nil {
			return err
		}
		ticker = s.clock.NewTicker(s.pollInterval)
		return nil
	}

	if visible, _ := s.takeVisibility(); visible {
		if err := start(); err != nil {
			return err
		}
	}

	for {
		var tick <-chan time.Time
		if ticker != nil {
			tick = ticker.Chan()
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return nil
		case <-s.wake:
			// Signals may coalesce while a poll runs; resumed records a
			// hide and show that happened in between.
			visible, resumed := s.takeVisibility()
			switch {
			case !visible:
				stop()
			case resumed || ticker == nil:
				stop()
				if err := start(); err != nil {
					return err
				}
			}
		case <-tick:
			if err := s.Poll(ctx); err != nil {
				return err
			}
		}
	}
}
