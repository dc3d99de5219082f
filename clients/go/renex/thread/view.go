package thread

import (
	"context"

	"github.com/renex-id/renex/clients/go/renex"
)

// Store is the remote message store. *renex.Client implements it.
type Store interface {
	FetchSince(ctx context.Context, counterpart string) ([]renex.Message, error)
	Submit(ctx context.Context, counterpart, text string) (renex.Outcome, error)
}

// View is the hosting view. Its methods are called with the session lock
// held and must not call back into the Session.
type View interface {
	// Append renders a new message after all visible ones.
	Append(m Message)
	// Update re-renders the message with the same Key in place.
	Update(m Message)
	// Remove drops the message with the same Key.
	Remove(m Message)

	// DistanceFromBottom is how far the viewport is scrolled up from the
	// newest message, in the host's units.
	DistanceFromBottom() int
	ScrollToBottom()

	SetUnread(n int)
	SetCooldown(active bool)
	NotifyFailure(err error)
}
