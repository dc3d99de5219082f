// Package thread reconciles a two-party message thread: optimistic local
// sends, server confirmations and periodic poll results are merged into one
// duplicate-free, ordered view.
package thread

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/renex-id/renex/clients/go/renex"
)

const (
	// DefaultCooldown is the minimum interval between accepted sends.
	DefaultCooldown = 2000 * time.Millisecond
	// DefaultPollInterval is the interval between polls while visible.
	DefaultPollInterval = 3000 * time.Millisecond
	// ScrollThreshold is the distance from the bottom within which the
	// viewport counts as being at the bottom.
	ScrollThreshold = 80
	// adoptSkew bounds how far a server timestamp may trail the local send
	// time for a polled copy to be taken as the in-flight send.
	adoptSkew = 30 * time.Second
)

var (
	ErrNoCounterpart = errors.New("thread: counterpart handle is required")
	ErrSendPending   = errors.New("thread: a message is still pending")
	ErrCooldown      = errors.New("thread: please wait before sending again")
	ErrRateLimited   = errors.New("thread: rate limited by server")
	ErrClosed        = errors.New("thread: session closed")
)

// Session is the state of one open thread view. It owns the visible
// message list and its identity set; nothing else mutates them.
type Session struct {
	store       Store
	view        View
	me          string
	counterpart string

	clock        clockwork.Clock
	log          zerolog.Logger
	cooldown     time.Duration
	pollInterval time.Duration

	mu            sync.Mutex
	state         State
	messages      []Message
	byKey         map[string]int
	known         map[string]struct{}
	pending       string // temp id of the in-flight send
	lastSend      time.Time
	unread        int
	cooldownTimer clockwork.Timer
	visible       bool
	resumed       bool // shown again since Run last looked
	closed        bool

	wake chan struct{}
	done chan struct{}
}

// Option configures a Session.
type Option func(*Session)

// WithClock sets the time source.
func WithClock(c clockwork.Clock) Option {
	return func(s *Session) { s.clock = c }
}

// WithLogger sets the logger used for swallowed poll failures.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Session) { s.log = l }
}

// WithCooldown overrides DefaultCooldown.
func WithCooldown(d time.Duration) Option {
	return func(s *Session) { s.cooldown = d }
}

// WithPollInterval overrides DefaultPollInterval.
func WithPollInterval(d time.Duration) Option {
	return func(s *Session) { s.pollInterval = d }
}

// New opens a session between me and counterpart.
func New(store Store, view View, me, counterpart string, opts ...Option) (*Session, error) {
	counterpart = renex.NormalizeHandle(counterpart)
	if counterpart == "" {
		return nil, ErrNoCounterpart
	}

	s := &Session{
		store:        store,
		view:         view,
		me:           renex.NormalizeHandle(me),
		counterpart:  counterpart,
		clock:        clockwork.NewRealClock(),
		log:          zerolog.Nop(),
		cooldown:     DefaultCooldown,
		pollInterval: DefaultPollInterval,
		state:        StateIdle,
		byKey:        make(map[string]int),
		known:        make(map[string]struct{}),
		visible:      true,
		wake:         make(chan struct{}, 1),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With().Str("counterpart", counterpart).Logger()
	return s, nil
}

// Counterpart returns the normalized counterpart handle.
func (s *Session) Counterpart() string {
	return s.counterpart
}

// isMine reports whether a sender handle refers to the viewer.
func (s *Session) isMine(from string) bool {
	from = renex.NormalizeHandle(from)
	if from == renex.SelfSentinel {
		return true
	}
	if from == s.counterpart {
		return false
	}
	return s.me == "" || from == s.me
}

// ComposeAndSend optimistically renders text as pending and submits it.
//
// Preconditions are checked before any side effect: invalid text returns a
// *renex.ValidationError, an outstanding send returns ErrSendPending and a
// send inside the cooldown window returns ErrCooldown. Every accepted send
// ends confirmed or failed.
func (s *Session) ComposeAndSend(ctx context.Context, text string) (Message, error) {
	text, err := renex.ValidateText(text)
	if err != nil {
		return Message{}, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Message{}, ErrClosed
	}
	if s.pending != "" {
		s.mu.Unlock()
		return Message{}, ErrSendPending
	}
	now := s.clock.Now()
	if !s.lastSend.IsZero() && now.Sub(s.lastSend) < s.cooldown {
		s.showCooldownLocked()
		s.mu.Unlock()
		return Message{}, ErrCooldown
	}
	s.lastSend = now

	tempID := "tmp-" + uuid.Must(uuid.NewV7()).String()
	msg := Message{
		Key:    tempID,
		TempID: tempID,
		From:   s.me,
		To:     s.counterpart,
		Text:   text,
		Status: StatusPending,
		Mine:   true,
	}
	s.pending = tempID
	s.appendLocked(msg)
	s.view.ScrollToBottom()
	s.mu.Unlock()

	out, err := s.store.Submit(ctx, s.counterpart, text)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == tempID {
		s.pending = ""
	}
	if s.closed {
		return Message{}, ErrClosed
	}

	switch {
	case err != nil:
		entry, failed := s.failLocked(tempID)
		if !failed {
			s.log.Debug().Err(err).Str("temp_id", tempID).Msg("send errored after poll delivered it")
			return entry, nil
		}
		s.log.Warn().Err(err).Str("temp_id", tempID).Msg("send failed")
		s.view.NotifyFailure(err)
		return entry, err

	case out.RateLimited:
		entry, failed := s.failLocked(tempID)
		if !failed {
			return entry, nil
		}
		s.log.Info().Str("reason", out.Reason).Str("temp_id", tempID).Msg("send rate limited")
		s.showCooldownLocked()
		return entry, fmt.Errorf("%w: %s", ErrRateLimited, out.Reason)

	case !out.Confirmed():
		// Accepted without a server id; the fallback identity keys it.
		s.log.Debug().Str("temp_id", tempID).Msg("send accepted without id")
	}

	return s.confirmLocked(tempID, out.Message), nil
}

// Resend composes the text of a failed message again as a new send.
func (s *Session) Resend(ctx context.Context, tempID string) (Message, error) {
	s.mu.Lock()
	i, ok := s.byKey[tempID]
	if !ok || s.messages[i].Status != StatusFailed {
		s.mu.Unlock()
		return Message{}, fmt.Errorf("thread: no failed message %q", tempID)
	}
	text := s.messages[i].Text
	s.mu.Unlock()

	return s.ComposeAndSend(ctx, text)
}

// confirmLocked attaches the server identity to the pending entry in place.
func (s *Session) confirmLocked(tempID string, saved renex.Message) Message {
	i, ok := s.byKey[tempID]
	if !ok {
		return Message{}
	}
	entry := s.messages[i]
	identity := Identity(saved, i)

	switch {
	case entry.ID != "" && entry.ID == saved.ID:
		// A poll already adopted this entry.
	case entry.ID != "":
		// The entry adopted another message with the same text; show the
		// confirmed one as well.
		if _, seen := s.known[identity]; !seen {
			s.known[identity] = struct{}{}
			s.appendLocked(fromWire(saved, identity, true))
		}
		if j, ok := s.byKey[identity]; ok {
			return s.messages[j]
		}
		return entry
	default:
		if _, seen := s.known[identity]; seen {
			// The poll rendered the server copy first; drop the optimistic one.
			s.removeLocked(tempID)
			if j, ok := s.byKey[identity]; ok {
				return s.messages[j]
			}
			return Message{}
		}
		s.known[identity] = struct{}{}
	}

	entry.ID = saved.ID
	if saved.Timestamp != 0 {
		entry.Timestamp = saved.Timestamp
	}
	entry.Status = StatusSent
	s.messages[i] = entry
	s.view.Update(entry)
	return entry
}

// failLocked marks the entry failed. It reports false when a poll already
// delivered the entry while the submission was in flight.
func (s *Session) failLocked(tempID string) (Message, bool) {
	i, ok := s.byKey[tempID]
	if !ok {
		return Message{}, true
	}
	entry := s.messages[i]
	if entry.Status != StatusPending {
		return entry, false
	}
	entry.Status = StatusFailed
	s.messages[i] = entry
	s.view.Update(entry)
	return entry, true
}

func (s *Session) appendLocked(m Message) {
	s.byKey[m.Key] = len(s.messages)
	s.messages = append(s.messages, m)
	s.view.Append(m)
}

func (s *Session) removeLocked(key string) {
	i, ok := s.byKey[key]
	if !ok {
		return
	}
	removed := s.messages[i]
	s.messages = append(s.messages[:i], s.messages[i+1:]...)
	delete(s.byKey, key)
	for j := i; j < len(s.messages); j++ {
		s.byKey[s.messages[j].Key] = j
	}
	s.view.Remove(removed)
}

func (s *Session) showCooldownLocked() {
	s.view.SetCooldown(true)
	if s.cooldownTimer != nil {
		s.cooldownTimer.Stop()
	}
	s.cooldownTimer = s.clock.AfterFunc(s.cooldown, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed {
			return
		}
		s.cooldownTimer = nil
		s.view.SetCooldown(false)
	})
}

// Poll fetches the thread and merges new messages. Transport failures are
// logged and swallowed; the next scheduled poll retries. Only errors that
// require re-authentication are returned.
func (s *Session) Poll(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	if s.state == StateIdle {
		s.state = StateLoading
	}
	s.mu.Unlock()

	msgs, err := s.store.FetchSince(ctx, s.counterpart)
	if err != nil {
		if renex.IsAuth(err) {
			return err
		}
		s.log.Error().Err(err).Msg("load messages failed")
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.mergeLocked(msgs)
	return nil
}

func (s *Session) mergeLocked(msgs []renex.Message) {
	wasAtBottom := s.view.DistanceFromBottom() <= ScrollThreshold
	steady := s.state == StateSteady
	added := 0

	for i, m := range msgs {
		identity := Identity(m, i)
		if _, seen := s.known[identity]; seen {
			continue
		}
		s.known[identity] = struct{}{}

		if _, err := renex.ValidateText(m.Text); err != nil {
			s.log.Debug().Str("identity", identity).Err(err).Msg("skipping message")
			continue
		}

		mine := s.isMine(m.From)
		if mine && steady && s.adoptPendingLocked(m) {
			continue
		}

		s.appendLocked(fromWire(m, identity, mine))
		added++
		if !wasAtBottom && renex.NormalizeHandle(m.From) == s.counterpart {
			s.unread++
		}
	}

	if s.state != StateSteady {
		s.state = StateSteady
		s.unread = 0
		s.view.ScrollToBottom()
	} else if added > 0 && wasAtBottom {
		s.unread = 0
		s.view.ScrollToBottom()
	}
	s.view.SetUnread(s.unread)
}

// adoptPendingLocked folds a polled copy of the in-flight send into its
// optimistic entry. The copy must carry a timestamp no older than the send,
// less adoptSkew.
func (s *Session) adoptPendingLocked(m renex.Message) bool {
	if s.pending == "" || m.Timestamp == 0 {
		return false
	}
	if m.Timestamp < s.lastSend.Add(-adoptSkew).UnixMilli() {
		return false
	}
	i, ok := s.byKey[s.pending]
	if !ok {
		return false
	}
	entry := s.messages[i]
	if entry.Status != StatusPending || entry.Text != strings.TrimSpace(m.Text) {
		return false
	}

	entry.ID = m.ID
	entry.Timestamp = m.Timestamp
	entry.Status = StatusSent
	s.messages[i] = entry
	s.view.Update(entry)
	return true
}

// Scrolled is called by the host after the user scrolls. Reaching the
// bottom clears the unread counter.
func (s *Session) Scrolled() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unread > 0 && s.view.DistanceFromBottom() <= ScrollThreshold {
		s.unread = 0
		s.view.SetUnread(0)
	}
}

// DismissUnread scrolls to the newest message and clears the unread counter.
func (s *Session) DismissUnread() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.view.ScrollToBottom()
	s.unread = 0
	s.view.SetUnread(0)
}

// Messages returns a snapshot of the visible list.
func (s *Session) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Unread returns the unread counter.
func (s *Session) Unread() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unread
}

// State returns the lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Pending reports whether a send is in flight.
func (s *Session) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending != ""
}

// Close stops polling and discards all in-memory state. Results of
// requests still in flight are not applied.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	if s.cooldownTimer != nil {
		s.cooldownTimer.Stop()
		s.cooldownTimer = nil
	}
	s.messages = nil
	s.byKey = make(map[string]int)
	s.known = make(map[string]struct{})
	s.pending = ""
	s.unread = 0
	close(s.done)
}
