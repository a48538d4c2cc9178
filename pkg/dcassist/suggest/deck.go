// deck.go paginates a ranked deck three entries at a time. The page index
// resets whenever the inputs that shaped the deck change.
package suggest

import (
	"sync"

	"github.com/dynamic-capital/dcassist/pkg/dcassist/chat"
)

// PageSize is the number of suggestions shown per page.
const PageSize = 3

// pagerKey captures the inputs whose change resets pagination: message
// count, sync status, and the linked-profile identity.
type pagerKey struct {
	msgCount int
	status   chat.SyncStatus
	profile  string
}

// Pager tracks the current page of a deck across renders.
type Pager struct {
	mu    sync.Mutex
	page  int
	pages int
	key   pagerKey
}

// NewPager returns a pager at page zero.
func NewPager() *Pager {
	return &Pager{}
}

// Page returns the current page of the deck for the given state, resetting
// to the first page when the state key changed since the last call.
func (p *Pager) Page(deck []Ranked, msgCount int, status chat.SyncStatus, profileIdentity string) []Ranked {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := pagerKey{msgCount: msgCount, status: status, profile: profileIdentity}
	if key != p.key {
		p.key = key
		p.page = 0
	}

	p.pages = (len(deck) + PageSize - 1) / PageSize
	if p.pages == 0 {
		return nil
	}
	page := p.page % p.pages

	start := page * PageSize
	end := start + PageSize
	if end > len(deck) {
		end = len(deck)
	}
	out := make([]Ranked, end-start)
	copy(out, deck[start:end])
	return out
}

// Cycle advances to the next page, wrapping around past the last one.
func (p *Pager) Cycle() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pages <= 0 {
		return
	}
	p.page = (p.page + 1) % p.pages
}

// PageIndex returns the effective page index shown by the last Page call.
func (p *Pager) PageIndex() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pages == 0 {
		return 0
	}
	return p.page % p.pages
}
