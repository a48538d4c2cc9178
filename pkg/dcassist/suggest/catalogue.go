// Package suggest implements the quick-reply suggestion ranker: a fixed
// catalogue of weighted candidate replies scored against the current
// conversation state and paginated into a deck.
package suggest

import "github.com/dynamic-capital/dcassist/pkg/dcassist/chat"

// Suggestion is one static catalogue entry.
type Suggestion struct {
	Text   string  `json:"text"`
	Weight float64 `json:"weight"`
}

// Catalogue is the rule table of candidate quick replies, grouped by the
// signal that triggers each group. Entries are read-only at runtime; the
// same text may appear in several groups, in which case its scores add up.
type Catalogue struct {
	// Intro applies while the user has not written anything yet.
	Intro []Suggestion

	// FollowUp applies once at least one user message exists.
	FollowUp []Suggestion

	// Progression applies to deep threads (3+ user or 3+ assistant turns).
	Progression []Suggestion

	// ByStatus keys suggestions on the widget sync status.
	ByStatus map[chat.SyncStatus][]Suggestion

	// ByKeyword keys suggestions on substrings of the last user message.
	ByKeyword map[string][]Suggestion

	// TelegramLinked / TelegramUnlinked key on profile link presence.
	TelegramLinked   []Suggestion
	TelegramUnlinked []Suggestion
}

// DefaultCatalogue returns the Dynamic Capital quick-reply catalogue.
// Keyword entries carry the heaviest weights: an explicit topic in the
// user's own words beats every ambient signal.
func DefaultCatalogue() *Catalogue {
	return &Catalogue{
		Intro: []Suggestion{
			{Text: "What is Dynamic Capital?", Weight: 10},
			{Text: "How do I become a VIP member?", Weight: 9},
			{Text: "Show me today's market outlook", Weight: 8},
		},
		FollowUp: []Suggestion{
			{Text: "How do the trading signals work?", Weight: 7},
			{Text: "What's included in the mentorship program?", Weight: 6},
			{Text: "Can I upgrade my plan later?", Weight: 5},
		},
		Progression: []Suggestion{
			{Text: "Book a one-on-one session with a mentor", Weight: 8},
			{Text: "What's the next step after the starter course?", Weight: 7.5},
			{Text: "How do I track my trading progress?", Weight: 7},
		},
		ByStatus: map[chat.SyncStatus][]Suggestion{
			chat.StatusIdle: {
				{Text: "Show me how to get started", Weight: 6},
			},
			chat.StatusSyncing: {
				{Text: "What markets do you cover?", Weight: 4},
			},
			chat.StatusConnected: {
				{Text: "What's trending in the markets today?", Weight: 6.5},
				{Text: "Run a quick portfolio checkup", Weight: 6},
			},
			chat.StatusError: {
				{Text: "Try reconnecting to support", Weight: 9},
				{Text: "Message support on Telegram", Weight: 8.5},
			},
		},
		ByKeyword: map[string][]Suggestion{
			"vip": {
				{Text: "Compare the VIP plans and pricing", Weight: 12},
				{Text: "What do VIP members get every day?", Weight: 11},
			},
			"signal": {
				{Text: "How accurate are the signals?", Weight: 11},
				{Text: "Which markets do the signals cover?", Weight: 10},
			},
			"price": {
				{Text: "Compare the VIP plans and pricing", Weight: 11},
			},
			"plan": {
				{Text: "Compare the VIP plans and pricing", Weight: 10},
				{Text: "Can I upgrade my plan later?", Weight: 9},
			},
			"mentor": {
				{Text: "Book a one-on-one session with a mentor", Weight: 11},
				{Text: "What's included in the mentorship program?", Weight: 10},
			},
			"telegram": {
				{Text: "Link my Telegram for instant alerts", Weight: 10},
				{Text: "Message support on Telegram", Weight: 9},
			},
			"deposit": {
				{Text: "How do deposits and withdrawals work?", Weight: 11},
			},
			"withdraw": {
				{Text: "How do deposits and withdrawals work?", Weight: 11},
			},
		},
		TelegramLinked: []Suggestion{
			{Text: "Send today's signals to my Telegram", Weight: 7},
			{Text: "Update my Telegram alert preferences", Weight: 6},
		},
		TelegramUnlinked: []Suggestion{
			{Text: "Link my Telegram for instant alerts", Weight: 5},
			{Text: "Why should I connect Telegram?", Weight: 4.5},
		},
	}
}

// candidates returns every distinct candidate text in the catalogue.
func (c *Catalogue) candidates() []string {
	seen := make(map[string]bool)
	var out []string
	add := func(list []Suggestion) {
		for _, s := range list {
			if !seen[s.Text] {
				seen[s.Text] = true
				out = append(out, s.Text)
			}
		}
	}
	add(c.Intro)
	add(c.FollowUp)
	add(c.Progression)
	for _, list := range c.ByStatus {
		add(list)
	}
	for _, list := range c.ByKeyword {
		add(list)
	}
	add(c.TelegramLinked)
	add(c.TelegramUnlinked)
	return out
}

// backfillPool returns the fixed fallback pool in priority order:
// intro, then follow-up, then the Telegram-keyed groups.
func (c *Catalogue) backfillPool() []Suggestion {
	pool := make([]Suggestion, 0,
		len(c.Intro)+len(c.FollowUp)+len(c.TelegramUnlinked)+len(c.TelegramLinked))
	pool = append(pool, c.Intro...)
	pool = append(pool, c.FollowUp...)
	pool = append(pool, c.TelegramUnlinked...)
	pool = append(pool, c.TelegramLinked...)
	return pool
}
