// Package replay authorizes remote commands: payload parsing, a bounded
// duplicate-nonce window and a durable strictly increasing nonce floor.
package replay

import (
	"hash/fnv"

	"github.com/daemonp/zoneguard/internal/types"
)

// GuardSlots is the number of nonces remembered at once.
const GuardSlots = 24

type slot struct {
	used      bool
	hash      uint32
	expiresAt uint32
}

// Guard rejects a nonce seen again before its earlier acceptance expires.
// Slots are reused oldest first. Not safe for concurrent use.
type Guard struct {
	slots  [GuardSlots]slot
	cursor int
}

func NewGuard() *Guard {
	return &Guard{}
}

// Accept records nonce and reports whether it was fresh. Empty nonces and a
// zero ttl are always rejected.
func (g *Guard) Accept(nonce string, now, ttl uint32) bool {
	if nonce == "" || ttl == 0 {
		return false
	}

	h := hashNonce(nonce)
	for i := range g.slots {
		s := &g.slots[i]
		if !s.used || types.Reached(now, s.expiresAt) {
			continue
		}
		if s.hash == h {
			return false
		}
	}

	g.slots[g.cursor] = slot{used: true, hash: h, expiresAt: now + ttl}
	g.cursor = (g.cursor + 1) % GuardSlots
	return true
}

// Live returns how many slots still hold an unexpired nonce.
func (g *Guard) Live(now uint32) int {
	n := 0
	for _, s := range g.slots {
		if s.used && !types.Reached(now, s.expiresAt) {
			n++
		}
	}
	return n
}

func hashNonce(nonce string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(nonce))
	return h.Sum32()
}
