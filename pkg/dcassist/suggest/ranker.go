// ranker.go scores the catalogue against conversation state. The scoring
// steps run in a fixed order so a deck is reproducible from its inputs.
package suggest

import (
	"sort"
	"strings"

	"github.com/dynamic-capital/dcassist/pkg/dcassist/chat"
)

// keywordBoost multiplies keyword-matched weights.
const keywordBoost = 1.15

// Floor multipliers keep the deck non-empty when no other signal fires.
const (
	introFloor    = 0.75
	followUpFloor = 0.65
)

// repeatPenalty discourages resurfacing a question the user already asked.
const repeatPenalty = 4

// deepThreadTurns is the user/assistant turn count that marks a deep thread.
const deepThreadTurns = 3

// DeckCap is the maximum number of entries in a ranked deck.
const DeckCap = 12

// minResults is the backfill target when ranking yields too few entries.
const minResults = 3

// Ranked is a catalogue entry with its computed score.
type Ranked struct {
	Text  string  `json:"text"`
	Score float64 `json:"score"`
}

// Input is the conversation state a deck derives from.
type Input struct {
	Messages       []chat.Message
	Status         chat.SyncStatus
	TelegramLinked bool
}

// lastUserMessage returns the newest user entry, if any.
func (in Input) lastUserMessage() (string, bool) {
	for i := len(in.Messages) - 1; i >= 0; i-- {
		if in.Messages[i].Role == chat.RoleUser {
			return in.Messages[i].Content, true
		}
	}
	return "", false
}

// Rank scores every catalogue candidate against the input and returns the
// deck: positive scorers sorted by score (ties lexicographic by text),
// backfilled to at least three entries, capped at DeckCap.
func Rank(in Input, cat *Catalogue) []Ranked {
	if cat == nil {
		cat = DefaultCatalogue()
	}

	// 1. Score map at zero for every candidate.
	scores := make(map[string]float64)
	for _, text := range cat.candidates() {
		scores[text] = 0
	}

	add := func(list []Suggestion, mult float64) {
		for _, s := range list {
			scores[s.Text] += s.Weight * mult
		}
	}

	// 2. Status-keyed weights.
	add(cat.ByStatus[in.Status], 1)

	// 3. Intro weights before the first user message, follow-up after.
	lastUser, hasUser := in.lastUserMessage()
	if !hasUser {
		add(cat.Intro, 1)
	} else {
		add(cat.FollowUp, 1)
	}

	// 4. Keyword hits on the last user message, boosted. Keywords are
	// visited in sorted order; scores are additive so the order only
	// matters for reproducibility of traces.
	if hasUser {
		needle := chat.Normalize(lastUser)
		keywords := make([]string, 0, len(cat.ByKeyword))
		for k := range cat.ByKeyword {
			keywords = append(keywords, k)
		}
		sort.Strings(keywords)
		for _, k := range keywords {
			if strings.Contains(needle, k) {
				add(cat.ByKeyword[k], keywordBoost)
			}
		}
	}

	// 5. Telegram link presence.
	if in.TelegramLinked {
		add(cat.TelegramLinked, 1)
	} else {
		add(cat.TelegramUnlinked, 1)
	}

	// 6. Deep-thread progression.
	var userTurns, assistantTurns int
	for _, m := range in.Messages {
		switch m.Role {
		case chat.RoleUser:
			userTurns++
		case chat.RoleAssistant:
			assistantTurns++
		}
	}
	if userTurns >= deepThreadTurns || assistantTurns >= deepThreadTurns {
		add(cat.Progression, 1)
	}

	// 7. Baseline floor.
	add(cat.Intro, introFloor)
	add(cat.FollowUp, followUpFloor)

	// 8. Never suggest repeating verbatim what was just asked.
	normLast := ""
	if hasUser {
		normLast = chat.Normalize(lastUser)
		for text := range scores {
			if chat.Normalize(text) == normLast {
				delete(scores, text)
			}
		}
	}

	// 9. Penalize candidates matching earlier user messages.
	asked := make(map[string]bool)
	for _, m := range in.Messages {
		if m.Role == chat.RoleUser {
			asked[chat.Normalize(m.Content)] = true
		}
	}
	for text := range scores {
		if asked[chat.Normalize(text)] {
			scores[text] -= repeatPenalty
		}
	}

	// 10. Keep positive scores; sort by score desc, text asc on ties.
	deck := make([]Ranked, 0, len(scores))
	for text, score := range scores {
		if score > 0 {
			deck = append(deck, Ranked{Text: text, Score: score})
		}
	}
	sort.Slice(deck, func(i, j int) bool {
		if deck[i].Score != deck[j].Score {
			return deck[i].Score > deck[j].Score
		}
		return deck[i].Text < deck[j].Text
	})

	// 11. Backfill to the minimum from the fixed fallback pool.
	if len(deck) < minResults {
		have := make(map[string]bool, len(deck))
		for _, r := range deck {
			have[r.Text] = true
		}
		for _, s := range cat.backfillPool() {
			if len(deck) >= minResults {
				break
			}
			if have[s.Text] || chat.Normalize(s.Text) == normLast {
				continue
			}
			have[s.Text] = true
			deck = append(deck, Ranked{Text: s.Text, Score: 0})
		}
	}

	// Guard: a fully empty deck cannot happen with the static catalogue,
	// but fall back to the intro set rather than returning nothing.
	if len(deck) == 0 {
		for _, s := range cat.Intro {
			if chat.Normalize(s.Text) == normLast {
				continue
			}
			deck = append(deck, Ranked{Text: s.Text, Score: s.Weight})
		}
	}

	// 12. Truncate to the deck cap.
	if len(deck) > DeckCap {
		deck = deck[:DeckCap]
	}
	return deck
}

