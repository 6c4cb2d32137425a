package storage

import (
	"crypto/rand"
	"sync"

	"github.com/oklog/ulid/v2"
)

// Domain prefixes for the identifiers minted by this package.
const (
	PrefixTx       = "tx"
	PrefixEvent    = "evt"
	PrefixDoc      = "doc"
	PrefixTask     = "tsk"
	PrefixAlert    = "alrt"
	PrefixDelivery = "adel"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewID returns "<prefix>_<26-char Crockford ULID>". IDs sort
// lexicographically by creation time at millisecond granularity.
func NewID(prefix string) string {
	entropyMu.Lock()
	id := ulid.MustNew(ulid.Now(), entropy)
	entropyMu.Unlock()
	return prefix + "_" + id.String()
}
