// Package tui hosts a thread session in a terminal using bubbletea.
package tui

import (
	"errors"
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/renex-id/renex/clients/go/renex"
	"github.com/renex-id/renex/clients/go/renex/thread"
)

// cellHeight is the nominal pixel height of one terminal row. Scroll
// distances are reported in pixels so thread.ScrollThreshold keeps its
// meaning.
const cellHeight = 16

// Screen is the thread.View a Session renders into. Session callbacks only
// record state and mark the screen dirty; the bubbletea program picks the
// change up through Wait and redraws.
type Screen struct {
	mu       sync.Mutex
	messages []thread.Message
	index    map[string]int
	distance int
	follow   bool
	unread   int
	cooldown bool
	notice   string

	dirty chan struct{}
}

// NewScreen returns an empty screen scrolled to the bottom.
func NewScreen() *Screen {
	return &Screen{
		index: make(map[string]int),
		dirty: make(chan struct{}, 1),
	}
}

type redrawMsg struct{}

// Wait returns a command that resolves after the next change.
func (s *Screen) Wait() tea.Cmd {
	return func() tea.Msg {
		<-s.dirty
		return redrawMsg{}
	}
}

func (s *Screen) markDirty() {
	select {
	case s.dirty <- struct{}{}:
	default:
	}
}

func (s *Screen) Append(m thread.Message) {
	s.mu.Lock()
	s.index[m.Key] = len(s.messages)
	s.messages = append(s.messages, m)
	s.mu.Unlock()
	s.markDirty()
}

func (s *Screen) Update(m thread.Message) {
	s.mu.Lock()
	if i, ok := s.index[m.Key]; ok {
		s.messages[i] = m
	}
	s.mu.Unlock()
	s.markDirty()
}

func (s *Screen) Remove(m thread.Message) {
	s.mu.Lock()
	if i, ok := s.index[m.Key]; ok {
		s.messages = append(s.messages[:i], s.messages[i+1:]...)
		delete(s.index, m.Key)
		for j := i; j < len(s.messages); j++ {
			s.index[s.messages[j].Key] = j
		}
	}
	s.mu.Unlock()
	s.markDirty()
}

func (s *Screen) DistanceFromBottom() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.distance
}

func (s *Screen) ScrollToBottom() {
	s.mu.Lock()
	s.follow = true
	s.distance = 0
	s.mu.Unlock()
	s.markDirty()
}

func (s *Screen) SetUnread(n int) {
	s.mu.Lock()
	s.unread = n
	s.mu.Unlock()
	s.markDirty()
}

func (s *Screen) SetCooldown(active bool) {
	s.mu.Lock()
	s.cooldown = active
	s.mu.Unlock()
	s.markDirty()
}

func (s *Screen) NotifyFailure(err error) {
	s.mu.Lock()
	s.notice = failureNotice(err)
	s.mu.Unlock()
	s.markDirty()
}

func failureNotice(err error) string {
	var apiErr *renex.APIError
	switch {
	case renex.IsAuth(err):
		return "Session expired. Run `renex login` again."
	case renex.IsNetwork(err):
		return "Network error. Message not sent."
	case errors.As(err, &apiErr) && apiErr.Message != "":
		return "Failed to send: " + apiErr.Message
	}
	return "Failed to send message."
}

// setDistance records the viewport's distance from the bottom in rows.
func (s *Screen) setDistance(rows int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rows < 0 {
		rows = 0
	}
	s.distance = rows * cellHeight
}

func (s *Screen) clearNotice() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notice = ""
}

type frame struct {
	messages []thread.Message
	follow   bool
	unread   int
	cooldown bool
	notice   string
}

// frame snapshots the screen and consumes a pending scroll-to-bottom.
func (s *Screen) frame() frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := frame{
		messages: append([]thread.Message(nil), s.messages...),
		follow:   s.follow,
		unread:   s.unread,
		cooldown: s.cooldown,
		notice:   s.notice,
	}
	s.follow = false
	return f
}
