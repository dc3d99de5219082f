package thread

import (
	"context"
	"sync"

	"github.com/renex-id/renex/clients/go/renex"
)

type fakeStore struct {
	mu      sync.Mutex
	thread  []renex.Message
	fetchFn func() ([]renex.Message, error)
	fetches int
	fetched chan struct{}

	submitFn func(text string) (renex.Outcome, error)
	submits  int
	// entered is signalled when Submit starts; release gates its return.
	entered chan struct{}
	release chan struct{}
}

func newFakeStore() *fakeStore {
	return &fakeStore{fetched: make(chan struct{}, 64)}
}

func (f *fakeStore) setThread(msgs ...renex.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.thread = append([]renex.Message(nil), msgs...)
}

func (f *fakeStore) FetchSince(ctx context.Context, counterpart string) ([]renex.Message, error) {
	f.mu.Lock()
	f.fetches++
	fn := f.fetchFn
	msgs := append([]renex.Message(nil), f.thread...)
	f.mu.Unlock()

	defer func() {
		select {
		case f.fetched <- struct{}{}:
		default:
		}
	}()
	if fn != nil {
		return fn()
	}
	return msgs, nil
}

func (f *fakeStore) Submit(ctx context.Context, counterpart, text string) (renex.Outcome, error) {
	f.mu.Lock()
	f.submits++
	fn := f.submitFn
	entered, release := f.entered, f.release
	f.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if release != nil {
		<-release
	}
	if fn != nil {
		return fn(text)
	}
	return renex.Outcome{Message: renex.Message{ID: "1", From: "alice", To: counterpart, Text: text, Timestamp: 1}}, nil
}

func (f *fakeStore) fetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches
}

func (f *fakeStore) submitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submits
}

type fakeView struct {
	mu       sync.Mutex
	appended []Message
	updated  []Message
	removed  []Message
	distance int
	scrolls  int
	unread   int
	cooldown bool
	failures []error
}

func (v *fakeView) Append(m Message) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.appended = append(v.appended, m)
}

func (v *fakeView) Update(m Message) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.updated = append(v.updated, m)
}

func (v *fakeView) Remove(m Message) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.removed = append(v.removed, m)
}

func (v *fakeView) DistanceFromBottom() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.distance
}

func (v *fakeView) ScrollToBottom() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.scrolls++
	v.distance = 0
}

func (v *fakeView) SetUnread(n int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.unread = n
}

func (v *fakeView) SetCooldown(active bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.cooldown = active
}

func (v *fakeView) NotifyFailure(err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.failures = append(v.failures, err)
}

func (v *fakeView) scrollUp(d int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.distance = d
}

type viewState struct {
	appended []Message
	updated  []Message
	removed  []Message
	distance int
	scrolls  int
	unread   int
	cooldown bool
	failures []error
}

func (v *fakeView) snapshot() viewState {
	v.mu.Lock()
	defer v.mu.Unlock()
	return viewState{
		appended: append([]Message(nil), v.appended...),
		updated:  append([]Message(nil), v.updated...),
		removed:  append([]Message(nil), v.removed...),
		distance: v.distance,
		scrolls:  v.scrolls,
		unread:   v.unread,
		cooldown: v.cooldown,
		failures: append([]error(nil), v.failures...),
	}
}
