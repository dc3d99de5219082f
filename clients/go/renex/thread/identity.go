package thread

import (
	"strconv"

	"github.com/cespare/xxhash/v2"

	"github.com/renex-id/renex/clients/go/renex"
)

const (
	idPrefix       = "id:"
	fallbackPrefix = "fb:"
	fieldSep       = "\x1f"
)

// Identity returns the resolved identity of a message as returned by the
// server at position index of its thread listing.
//
// A server id always wins. Without one, the identity is a 64-bit xxhash over
// the normalized sender, recipient and timestamp; the listing index stands
// in for a missing timestamp. The result is deterministic, so the same
// record seen by two polls resolves to the same identity.
func Identity(m renex.Message, index int) string {
	if m.ID != "" {
		return idPrefix + m.ID
	}

	ts := m.Timestamp
	if ts == 0 {
		ts = int64(index)
	}

	d := xxhash.New()
	d.WriteString(renex.NormalizeHandle(m.From))
	d.WriteString(fieldSep)
	d.WriteString(renex.NormalizeHandle(m.To))
	d.WriteString(fieldSep)
	d.WriteString(strconv.FormatInt(ts, 10))
	return fallbackPrefix + strconv.FormatUint(d.Sum64(), 16)
}
