package thread

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/renex-id/renex/clients/go/renex"
)

func newTestSession(t *testing.T, store *fakeStore, view *fakeView, opts ...Option) *Session {
	t.Helper()
	s, err := New(store, view, "alice", "bob", opts...)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func bobSays(id, text string, ts int64) renex.Message {
	return renex.Message{ID: id, From: "bob", To: "alice", Text: text, Timestamp: ts}
}

func TestNewRequiresCounterpart(t *testing.T) {
	if _, err := New(newFakeStore(), &fakeView{}, "alice", "  "); !errors.Is(err, ErrNoCounterpart) {
		t.Fatalf("expected ErrNoCounterpart, got %v", err)
	}
}

func TestPollIsIdempotent(t *testing.T) {
	store := newFakeStore()
	view := &fakeView{}
	s := newTestSession(t, store, view)

	store.setThread(
		bobSays("1", "hello", 1000),
		renex.Message{From: "alice", To: "bob", Text: "no id", Timestamp: 2000},
		renex.Message{From: "bob", To: "alice", Text: "no id or ts"},
	)

	for i := 0; i < 3; i++ {
		if err := s.Poll(context.Background()); err != nil {
			t.Fatalf("poll %d: %v", i, err)
		}
	}

	msgs := s.Messages()
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages after repeated polls, got %d", len(msgs))
	}
	seen := make(map[string]bool)
	for _, m := range msgs {
		if seen[m.Key] {
			t.Fatalf("duplicate identity %q", m.Key)
		}
		seen[m.Key] = true
	}
	if got := len(view.snapshot().appended); got != 3 {
		t.Fatalf("expected 3 appends, got %d", got)
	}
}

func TestFirstLoadScrollsAndClearsUnread(t *testing.T) {
	store := newFakeStore()
	view := &fakeView{}
	view.scrollUp(500)
	s := newTestSession(t, store, view)

	if s.State() != StateIdle {
		t.Fatalf("expected idle before first poll, got %s", s.State())
	}

	var msgs []renex.Message
	for i := 0; i < 25; i++ {
		msgs = append(msgs, bobSays(fmt.Sprint(i), "old", int64(i+1)))
	}
	store.setThread(msgs...)

	if err := s.Poll(context.Background()); err != nil {
		t.Fatalf("poll: %v", err)
	}

	vs := view.snapshot()
	if s.State() != StateSteady {
		t.Fatalf("expected steady after first poll, got %s", s.State())
	}
	if s.Unread() != 0 || vs.unread != 0 {
		t.Fatalf("expected unread 0 after first load, got %d", s.Unread())
	}
	if vs.scrolls != 1 || vs.distance != 0 {
		t.Fatalf("expected a scroll to bottom, got %d scrolls at distance %d", vs.scrolls, vs.distance)
	}
}

func TestFailedFirstLoadStaysLoading(t *testing.T) {
	store := newFakeStore()
	store.fetchFn = func() ([]renex.Message, error) {
		return nil, fmt.Errorf("%w: connection refused", renex.ErrNetwork)
	}
	view := &fakeView{}
	s := newTestSession(t, store, view)

	if err := s.Poll(context.Background()); err != nil {
		t.Fatalf("network errors must be swallowed, got %v", err)
	}
	if s.State() != StateLoading {
		t.Fatalf("expected loading after failed first poll, got %s", s.State())
	}
	if len(view.snapshot().failures) != 0 {
		t.Fatal("poll failures must not be surfaced to the view")
	}
}

func TestPollReturnsAuthErrors(t *testing.T) {
	store := newFakeStore()
	store.fetchFn = func() ([]renex.Message, error) {
		return nil, fmt.Errorf("%w: token expired", renex.ErrAuth)
	}
	s := newTestSession(t, store, &fakeView{})

	if err := s.Poll(context.Background()); !renex.IsAuth(err) {
		t.Fatalf("expected auth error, got %v", err)
	}
}

func TestUnreadCountsOnlyCounterpart(t *testing.T) {
	store := newFakeStore()
	view := &fakeView{}
	s := newTestSession(t, store, view)

	if err := s.Poll(context.Background()); err != nil {
		t.Fatal(err)
	}
	view.scrollUp(200)

	store.setThread(bobSays("1", "a", 1), bobSays("2", "b", 2), bobSays("3", "c", 3))
	if err := s.Poll(context.Background()); err != nil {
		t.Fatal(err)
	}
	if s.Unread() != 3 || view.snapshot().unread != 3 {
		t.Fatalf("expected unread 3, got %d", s.Unread())
	}

	store.setThread(
		bobSays("1", "a", 1), bobSays("2", "b", 2), bobSays("3", "c", 3),
		renex.Message{ID: "4", From: "me", To: "bob", Text: "mine", Timestamp: 4},
		renex.Message{ID: "5", From: "Alice", To: "bob", Text: "also mine", Timestamp: 5},
	)
	if err := s.Poll(context.Background()); err != nil {
		t.Fatal(err)
	}
	if s.Unread() != 3 {
		t.Fatalf("messages of mine must not count as unread, got %d", s.Unread())
	}
	for _, m := range s.Messages()[3:] {
		if !m.Mine {
			t.Fatalf("expected %q to be mine", m.Text)
		}
	}

	view.scrollUp(ScrollThreshold)
	s.Scrolled()
	if s.Unread() != 0 || view.snapshot().unread != 0 {
		t.Fatalf("expected unread cleared at bottom, got %d", s.Unread())
	}
}

func TestNewMessagesAtBottomAutoScroll(t *testing.T) {
	store := newFakeStore()
	view := &fakeView{}
	s := newTestSession(t, store, view)

	if err := s.Poll(context.Background()); err != nil {
		t.Fatal(err)
	}
	before := view.snapshot().scrolls

	store.setThread(bobSays("1", "hey", 1))
	if err := s.Poll(context.Background()); err != nil {
		t.Fatal(err)
	}
	vs := view.snapshot()
	if vs.scrolls != before+1 {
		t.Fatalf("expected auto-scroll, got %d scrolls", vs.scrolls-before)
	}
	if s.Unread() != 0 {
		t.Fatalf("expected unread 0 at bottom, got %d", s.Unread())
	}
}

func TestDismissUnread(t *testing.T) {
	store := newFakeStore()
	view := &fakeView{}
	s := newTestSession(t, store, view)

	if err := s.Poll(context.Background()); err != nil {
		t.Fatal(err)
	}
	view.scrollUp(1000)
	store.setThread(bobSays("1", "hey", 1))
	if err := s.Poll(context.Background()); err != nil {
		t.Fatal(err)
	}
	if s.Unread() != 1 {
		t.Fatalf("expected unread 1, got %d", s.Unread())
	}

	s.DismissUnread()
	if s.Unread() != 0 || view.snapshot().distance != 0 {
		t.Fatal("expected dismiss to clear unread and scroll to bottom")
	}
}

func TestFallbackIdentityRoundTrip(t *testing.T) {
	m := renex.Message{From: "Bob", To: "alice", Text: "x", Timestamp: 1234}
	if Identity(m, 0) != Identity(m, 7) {
		t.Fatal("identity with a timestamp must not depend on the index")
	}
	m.From = "bob"
	if Identity(m, 0) != Identity(renex.Message{From: " BOB ", To: "Alice", Timestamp: 1234}, 3) {
		t.Fatal("identity must normalize handles")
	}
	noTS := renex.Message{From: "bob", To: "alice"}
	if Identity(noTS, 1) == Identity(noTS, 2) {
		t.Fatal("identity without a timestamp must use the index")
	}
	if Identity(renex.Message{ID: "9", From: "bob"}, 0) != "id:9" {
		t.Fatal("server id must win")
	}

	store := newFakeStore()
	s := newTestSession(t, store, &fakeView{})
	store.setThread(m)
	for i := 0; i < 2; i++ {
		if err := s.Poll(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	if got := len(s.Messages()); got != 1 {
		t.Fatalf("expected fallback-identity message once, got %d", got)
	}
}

func TestInvalidPolledMessagesAreSkipped(t *testing.T) {
	store := newFakeStore()
	s := newTestSession(t, store, &fakeView{})

	long := make([]byte, renex.MaxMessageLength+1)
	for i := range long {
		long[i] = 'x'
	}
	store.setThread(bobSays("1", "   ", 1), bobSays("2", string(long), 2), bobSays("3", "ok", 3))
	if err := s.Poll(context.Background()); err != nil {
		t.Fatal(err)
	}
	msgs := s.Messages()
	if len(msgs) != 1 || msgs[0].Text != "ok" {
		t.Fatalf("expected only the valid message, got %+v", msgs)
	}
}

func TestComposeRejectsInvalidText(t *testing.T) {
	store := newFakeStore()
	view := &fakeView{}
	s := newTestSession(t, store, view)

	_, err := s.ComposeAndSend(context.Background(), " \n ")
	var verr *renex.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if store.submitCount() != 0 || len(view.snapshot().appended) != 0 {
		t.Fatal("invalid text must have no side effects")
	}
}

func TestConfirmUpdatesInPlace(t *testing.T) {
	store := newFakeStore()
	store.submitFn = func(text string) (renex.Outcome, error) {
		return renex.Outcome{Message: renex.Message{ID: "42", From: "alice", To: "bob", Text: text, Timestamp: 1000}}, nil
	}
	view := &fakeView{}
	s := newTestSession(t, store, view)

	got, err := s.ComposeAndSend(context.Background(), "  hi  ")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if got.ID != "42" || got.Timestamp != 1000 || got.Status != StatusSent || got.Text != "hi" {
		t.Fatalf("unexpected confirmed message %+v", got)
	}
	if got.Key != got.TempID {
		t.Fatalf("render key must stay the temp id, got %q vs %q", got.Key, got.TempID)
	}

	msgs := s.Messages()
	if len(msgs) != 1 || msgs[0].ID != "42" {
		t.Fatalf("expected exactly one entry with id 42, got %+v", msgs)
	}
	vs := view.snapshot()
	if len(vs.appended) != 1 || len(vs.updated) != 1 || vs.updated[0].Key != got.Key {
		t.Fatalf("expected one append then one in-place update, got %d/%d", len(vs.appended), len(vs.updated))
	}

	store.setThread(renex.Message{ID: "42", From: "alice", To: "bob", Text: "hi", Timestamp: 1000})
	if err := s.Poll(context.Background()); err != nil {
		t.Fatal(err)
	}
	if n := len(s.Messages()); n != 1 {
		t.Fatalf("poll must not duplicate a confirmed send, got %d", n)
	}
}

func TestSendWhilePendingIsNoOp(t *testing.T) {
	store := newFakeStore()
	store.entered = make(chan struct{})
	store.release = make(chan struct{})
	view := &fakeView{}
	s := newTestSession(t, store, view, WithClock(clockwork.NewFakeClock()))

	done := make(chan error, 1)
	go func() {
		_, err := s.ComposeAndSend(context.Background(), "first")
		done <- err
	}()
	<-store.entered

	if !s.Pending() {
		t.Fatal("expected a pending send")
	}
	if _, err := s.ComposeAndSend(context.Background(), "second"); !errors.Is(err, ErrSendPending) {
		t.Fatalf("expected ErrSendPending, got %v", err)
	}
	if store.submitCount() != 1 {
		t.Fatalf("expected one network call, got %d", store.submitCount())
	}
	if n := len(view.snapshot().appended); n != 1 {
		t.Fatalf("expected one entry, got %d", n)
	}

	close(store.release)
	if err := <-done; err != nil {
		t.Fatalf("first send: %v", err)
	}
	if s.Pending() {
		t.Fatal("expected no pending send after confirmation")
	}
}

func TestCooldown(t *testing.T) {
	store := newFakeStore()
	fc := clockwork.NewFakeClock()
	view := &fakeView{}
	s := newTestSession(t, store, view, WithClock(fc))
	ids := 0
	store.submitFn = func(text string) (renex.Outcome, error) {
		ids++
		return renex.Outcome{Message: renex.Message{ID: fmt.Sprint(ids), From: "alice", Text: text, Timestamp: int64(ids)}}, nil
	}

	if _, err := s.ComposeAndSend(context.Background(), "one"); err != nil {
		t.Fatal(err)
	}

	fc.Advance(DefaultCooldown - time.Millisecond)
	if _, err := s.ComposeAndSend(context.Background(), "two"); !errors.Is(err, ErrCooldown) {
		t.Fatalf("expected ErrCooldown, got %v", err)
	}
	if store.submitCount() != 1 {
		t.Fatalf("cooldown rejection must not reach the network, got %d calls", store.submitCount())
	}
	if !view.snapshot().cooldown {
		t.Fatal("expected cooldown notice")
	}

	fc.Advance(time.Millisecond)
	if _, err := s.ComposeAndSend(context.Background(), "two"); err != nil {
		t.Fatalf("expected send at cooldown boundary, got %v", err)
	}
	if store.submitCount() != 2 {
		t.Fatalf("expected two network calls, got %d", store.submitCount())
	}
	if n := len(s.Messages()); n != 2 {
		t.Fatalf("expected two entries, got %d", n)
	}
}

func TestSubmitFailureMarksFailed(t *testing.T) {
	store := newFakeStore()
	fc := clockwork.NewFakeClock()
	view := &fakeView{}
	s := newTestSession(t, store, view, WithClock(fc))
	store.submitFn = func(text string) (renex.Outcome, error) {
		return renex.Outcome{}, fmt.Errorf("%w: %w", renex.ErrSubmit, renex.ErrNetwork)
	}

	got, err := s.ComposeAndSend(context.Background(), "lost")
	if !errors.Is(err, renex.ErrSubmit) {
		t.Fatalf("expected submit error, got %v", err)
	}
	if got.Status != StatusFailed {
		t.Fatalf("expected failed status, got %s", got.Status)
	}
	if s.Pending() {
		t.Fatal("a failed send must not block later sends")
	}
	if len(view.snapshot().failures) != 1 {
		t.Fatal("expected failure notice")
	}

	store.mu.Lock()
	store.submitFn = nil
	store.mu.Unlock()
	fc.Advance(DefaultCooldown)

	resent, err := s.Resend(context.Background(), got.TempID)
	if err != nil {
		t.Fatalf("resend: %v", err)
	}
	if resent.Status != StatusSent || resent.Text != "lost" {
		t.Fatalf("unexpected resent message %+v", resent)
	}
	msgs := s.Messages()
	if len(msgs) != 2 || msgs[0].Status != StatusFailed {
		t.Fatalf("expected failed entry kept beside the resend, got %+v", msgs)
	}

	if _, err := s.Resend(context.Background(), resent.TempID); err == nil {
		t.Fatal("expected resend of a sent message to fail")
	}
}

func TestRateLimitedSend(t *testing.T) {
	store := newFakeStore()
	view := &fakeView{}
	s := newTestSession(t, store, view, WithClock(clockwork.NewFakeClock()))
	store.submitFn = func(text string) (renex.Outcome, error) {
		return renex.Outcome{RateLimited: true, Reason: "too many messages"}, nil
	}

	got, err := s.ComposeAndSend(context.Background(), "spam")
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if got.Status != StatusFailed {
		t.Fatalf("expected failed status, got %s", got.Status)
	}
	vs := view.snapshot()
	if !vs.cooldown {
		t.Fatal("expected cooldown notice on rate limit")
	}
	if len(vs.failures) != 0 {
		t.Fatal("rate limiting is not a failure notice")
	}
	if n := len(s.Messages()); n != 1 {
		t.Fatalf("expected the entry to stay visible, got %d", n)
	}
}

func TestPollAdoptsPendingSend(t *testing.T) {
	store := newFakeStore()
	fc := clockwork.NewFakeClock()
	ts := fc.Now().UnixMilli()
	store.entered = make(chan struct{})
	store.release = make(chan struct{})
	store.submitFn = func(text string) (renex.Outcome, error) {
		return renex.Outcome{Message: renex.Message{ID: "7", From: "alice", To: "bob", Text: text, Timestamp: ts}}, nil
	}
	view := &fakeView{}
	s := newTestSession(t, store, view, WithClock(fc))

	if err := s.Poll(context.Background()); err != nil {
		t.Fatal(err)
	}

	done := make(chan Message, 1)
	go func() {
		m, err := s.ComposeAndSend(context.Background(), "racing")
		if err != nil {
			t.Errorf("send: %v", err)
		}
		done <- m
	}()
	<-store.entered

	store.setThread(renex.Message{ID: "7", From: "alice", To: "bob", Text: "racing", Timestamp: ts})
	if err := s.Poll(context.Background()); err != nil {
		t.Fatal(err)
	}
	msgs := s.Messages()
	if len(msgs) != 1 || msgs[0].Status != StatusSent || msgs[0].ID != "7" {
		t.Fatalf("expected the pending entry adopted in place, got %+v", msgs)
	}

	close(store.release)
	m := <-done
	if m.ID != "7" {
		t.Fatalf("unexpected confirmation %+v", m)
	}
	if n := len(s.Messages()); n != 1 {
		t.Fatalf("expected one entry after confirmation, got %d", n)
	}
}

func TestBobThreadScenario(t *testing.T) {
	store := newFakeStore()
	fc := clockwork.NewFakeClock()
	view := &fakeView{}
	view.scrollUp(300)
	s := newTestSession(t, store, view, WithClock(fc))

	history := []renex.Message{
		bobSays("99", "are you there?", 100),
		{ID: "100", From: "alice", To: "bob", Text: "yes", Timestamp: 200},
	}
	store.setThread(history...)
	if err := s.Poll(context.Background()); err != nil {
		t.Fatal(err)
	}
	if n := len(s.Messages()); n != 2 || s.Unread() != 0 || view.snapshot().distance != 0 {
		t.Fatalf("expected 2 messages at bottom with no unread, got %d/%d", n, s.Unread())
	}

	store.entered = make(chan struct{}, 1)
	store.submitFn = func(text string) (renex.Outcome, error) {
		return renex.Outcome{Message: renex.Message{ID: "101", From: "alice", To: "bob", Text: text, Timestamp: 300}}, nil
	}
	sent, err := s.ComposeAndSend(context.Background(), "hi")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	<-store.entered
	vs := view.snapshot()
	if len(vs.appended) != 3 || vs.appended[2].Status != StatusPending {
		t.Fatal("expected the pending entry to render before confirmation")
	}
	if sent.ID != "101" || len(s.Messages()) != 3 {
		t.Fatalf("expected in-place confirmation, got %+v", s.Messages())
	}

	fc.Advance(DefaultPollInterval)
	store.setThread(append(history, renex.Message{ID: "101", From: "alice", To: "bob", Text: "hi", Timestamp: 300})...)
	if err := s.Poll(context.Background()); err != nil {
		t.Fatal(err)
	}
	if n := len(view.snapshot().appended); n != 3 {
		t.Fatalf("expected no new entries, got %d appends", n)
	}

	view.scrollUp(400)
	store.setThread(append(history,
		renex.Message{ID: "101", From: "alice", To: "bob", Text: "hi", Timestamp: 300},
		bobSays("102", "hello!", 400),
	)...)
	if err := s.Poll(context.Background()); err != nil {
		t.Fatal(err)
	}
	if s.Unread() != 1 {
		t.Fatalf("expected unread 1, got %d", s.Unread())
	}
}

func TestCloseDiscardsState(t *testing.T) {
	store := newFakeStore()
	s, err := New(store, &fakeView{}, "alice", "bob")
	if err != nil {
		t.Fatal(err)
	}
	store.setThread(bobSays("1", "x", 1))
	if err := s.Poll(context.Background()); err != nil {
		t.Fatal(err)
	}

	s.Close()
	s.Close()
	if len(s.Messages()) != 0 {
		t.Fatal("expected state discarded on close")
	}
	if _, err := s.ComposeAndSend(context.Background(), "late"); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if err := s.Poll(context.Background()); err != nil {
		t.Fatalf("poll after close: %v", err)
	}
	if store.fetchCount() != 1 {
		t.Fatalf("closed session must not fetch, got %d", store.fetchCount())
	}
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal(msg)
		}
		time.Sleep(time.Millisecond)
	}
}

// sendGated starts a send whose Submit blocks until store.release closes.
func sendGated(t *testing.T, s *Session, store *fakeStore, text string) <-chan Message {
	t.Helper()
	done := make(chan Message, 1)
	go func() {
		m, err := s.ComposeAndSend(context.Background(), text)
		if err != nil {
			t.Errorf("send %q: %v", text, err)
		}
		done <- m
	}()
	<-store.entered
	return done
}

func TestCooldownNoticeClearsItself(t *testing.T) {
	store := newFakeStore()
	fc := clockwork.NewFakeClock()
	view := &fakeView{}
	s := newTestSession(t, store, view, WithClock(fc))

	if _, err := s.ComposeAndSend(context.Background(), "one"); err != nil {
		t.Fatal(err)
	}
	fc.Advance(time.Second)
	if _, err := s.ComposeAndSend(context.Background(), "two"); !errors.Is(err, ErrCooldown) {
		t.Fatalf("expected ErrCooldown, got %v", err)
	}
	if !view.snapshot().cooldown {
		t.Fatal("expected cooldown notice")
	}

	fc.Advance(DefaultCooldown - time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	if !view.snapshot().cooldown {
		t.Fatal("cooldown notice cleared early")
	}

	fc.Advance(time.Millisecond)
	eventually(t, func() bool { return !view.snapshot().cooldown }, "cooldown notice never cleared")
}

func TestConfirmDropsEntryRenderedByPoll(t *testing.T) {
	store := newFakeStore()
	fc := clockwork.NewFakeClock()
	ts := fc.Now().UnixMilli()
	store.entered = make(chan struct{})
	store.release = make(chan struct{})
	store.submitFn = func(text string) (renex.Outcome, error) {
		return renex.Outcome{Message: renex.Message{ID: "8", From: "alice", To: "bob", Text: "hithere", Timestamp: ts}}, nil
	}
	view := &fakeView{}
	s := newTestSession(t, store, view, WithClock(fc))
	if err := s.Poll(context.Background()); err != nil {
		t.Fatal(err)
	}

	// The server stored a cleaned-up text, so the poll cannot match it to
	// the pending entry and renders its own copy.
	done := sendGated(t, s, store, "hi\x07there")
	store.setThread(renex.Message{ID: "8", From: "alice", To: "bob", Text: "hithere", Timestamp: ts})
	if err := s.Poll(context.Background()); err != nil {
		t.Fatal(err)
	}
	if n := len(s.Messages()); n != 2 {
		t.Fatalf("expected pending entry beside the polled copy, got %d", n)
	}

	close(store.release)
	got := <-done
	if got.ID != "8" || got.Key != "id:8" {
		t.Fatalf("expected the polled copy back, got %+v", got)
	}
	msgs := s.Messages()
	if len(msgs) != 1 || msgs[0].ID != "8" {
		t.Fatalf("expected a single entry for id 8, got %+v", msgs)
	}
	vs := view.snapshot()
	if len(vs.removed) != 1 || vs.removed[0].TempID == "" {
		t.Fatalf("expected the optimistic entry removed from the view, got %+v", vs.removed)
	}
}

func TestConfirmAfterAdoptingAnotherCopy(t *testing.T) {
	store := newFakeStore()
	fc := clockwork.NewFakeClock()
	ts := fc.Now().UnixMilli()
	store.entered = make(chan struct{})
	store.release = make(chan struct{})
	store.submitFn = func(text string) (renex.Outcome, error) {
		return renex.Outcome{Message: renex.Message{ID: "6", From: "alice", To: "bob", Text: text, Timestamp: ts + 5}}, nil
	}
	view := &fakeView{}
	s := newTestSession(t, store, view, WithClock(fc))
	if err := s.Poll(context.Background()); err != nil {
		t.Fatal(err)
	}

	// The same text sent from another device lands first and is adopted.
	done := sendGated(t, s, store, "ok")
	store.setThread(renex.Message{ID: "5", From: "alice", To: "bob", Text: "ok", Timestamp: ts})
	if err := s.Poll(context.Background()); err != nil {
		t.Fatal(err)
	}

	close(store.release)
	got := <-done
	if got.ID != "6" || got.Timestamp != ts+5 {
		t.Fatalf("expected the confirmed message, got %+v", got)
	}
	msgs := s.Messages()
	if len(msgs) != 2 || msgs[0].ID != "5" || msgs[1].ID != "6" {
		t.Fatalf("expected both copies in order, got %+v", msgs)
	}

	store.setThread(
		renex.Message{ID: "5", From: "alice", To: "bob", Text: "ok", Timestamp: ts},
		renex.Message{ID: "6", From: "alice", To: "bob", Text: "ok", Timestamp: ts + 5},
	)
	if err := s.Poll(context.Background()); err != nil {
		t.Fatal(err)
	}
	if n := len(s.Messages()); n != 2 {
		t.Fatalf("poll must not duplicate either copy, got %d", n)
	}
}

func TestPollDoesNotAdoptOlderMessages(t *testing.T) {
	store := newFakeStore()
	fc := clockwork.NewFakeClock()
	old := fc.Now().Add(-time.Hour).UnixMilli()
	store.entered = make(chan struct{})
	store.release = make(chan struct{})
	store.submitFn = func(text string) (renex.Outcome, error) {
		return renex.Outcome{Message: renex.Message{ID: "4", From: "alice", To: "bob", Text: text, Timestamp: fc.Now().UnixMilli()}}, nil
	}
	s := newTestSession(t, store, &fakeView{}, WithClock(fc))
	if err := s.Poll(context.Background()); err != nil {
		t.Fatal(err)
	}

	done := sendGated(t, s, store, "ok")
	store.setThread(renex.Message{ID: "3", From: "alice", To: "bob", Text: "ok", Timestamp: old})
	if err := s.Poll(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := s.Messages()[0]; got.Status != StatusPending || got.ID != "" {
		t.Fatalf("an hour-old message must not settle the pending send, got %+v", got)
	}

	close(store.release)
	if got := <-done; got.ID != "4" {
		t.Fatalf("expected confirmation id 4, got %+v", got)
	}
	msgs := s.Messages()
	if len(msgs) != 2 || msgs[0].ID != "4" || msgs[1].ID != "3" {
		t.Fatalf("unexpected thread %+v", msgs)
	}
}

func TestFirstLoadDoesNotAdopt(t *testing.T) {
	store := newFakeStore()
	fc := clockwork.NewFakeClock()
	ts := fc.Now().UnixMilli()
	store.entered = make(chan struct{})
	store.release = make(chan struct{})
	store.submitFn = func(text string) (renex.Outcome, error) {
		return renex.Outcome{Message: renex.Message{ID: "2", From: "alice", To: "bob", Text: text, Timestamp: ts}}, nil
	}
	s := newTestSession(t, store, &fakeView{}, WithClock(fc))

	done := sendGated(t, s, store, "again")
	store.setThread(renex.Message{ID: "1", From: "alice", To: "bob", Text: "again", Timestamp: ts})
	if err := s.Poll(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := s.Messages()[0]; got.Status != StatusPending || got.ID != "" {
		t.Fatalf("history from the first load must not settle the pending send, got %+v", got)
	}

	close(store.release)
	<-done
	msgs := s.Messages()
	if len(msgs) != 2 || msgs[0].ID != "2" || msgs[1].ID != "1" {
		t.Fatalf("unexpected thread %+v", msgs)
	}
}

func TestConcurrentPollsConverge(t *testing.T) {
	store := newFakeStore()
	view := &fakeView{}
	s := newTestSession(t, store, view, WithClock(clockwork.NewFakeClock()))

	var thread []renex.Message
	for i := 1; i <= 20; i++ {
		thread = append(thread, bobSays(fmt.Sprint(i), fmt.Sprintf("message %d", i), int64(i*100)))
	}
	// Half the records lack ids and resolve through the fallback identity.
	for i := 0; i < len(thread); i += 2 {
		thread[i].ID = ""
	}
	store.setThread(thread...)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.Poll(context.Background()); err != nil {
				t.Errorf("poll: %v", err)
			}
		}()
	}
	wg.Wait()

	msgs := s.Messages()
	if len(msgs) != len(thread) {
		t.Fatalf("expected %d entries, got %d", len(thread), len(msgs))
	}
	seen := make(map[string]bool)
	for i, m := range msgs {
		if seen[m.Key] {
			t.Fatalf("duplicate identity %q", m.Key)
		}
		seen[m.Key] = true
		if m.Text != thread[i].Text {
			t.Fatalf("position %d: expected %q, got %q", i, thread[i].Text, m.Text)
		}
	}
	if n := len(view.snapshot().appended); n != len(thread) {
		t.Fatalf("expected %d renders, got %d", len(thread), n)
	}
}

func TestConfirmWithoutServerID(t *testing.T) {
	store := newFakeStore()
	saved := renex.Message{From: "alice", To: "bob", Text: "no id", Timestamp: 5000}
	store.submitFn = func(text string) (renex.Outcome, error) {
		return renex.Outcome{Message: saved}, nil
	}
	s := newTestSession(t, store, &fakeView{})

	got, err := s.ComposeAndSend(context.Background(), "no id")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if got.Status != StatusSent || got.ID != "" || got.Timestamp != 5000 {
		t.Fatalf("unexpected confirmed message %+v", got)
	}

	store.setThread(saved)
	if err := s.Poll(context.Background()); err != nil {
		t.Fatal(err)
	}
	if n := len(s.Messages()); n != 1 {
		t.Fatalf("poll must match the send by its fallback identity, got %d entries", n)
	}
}
