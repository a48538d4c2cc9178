// controller.go orchestrates one profile's chat widget: optimistic message
// submission with rollback, streamed token application, history boot with a
// persisted fallback, panel state, and the suggestion deck.
package widget

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/dynamic-capital/dcassist/pkg/dcassist/chat"
	"github.com/dynamic-capital/dcassist/pkg/dcassist/proxy"
	"github.com/dynamic-capital/dcassist/pkg/dcassist/suggest"
)

// Transport is the remote side of the widget. *proxy.Client implements it;
// tests swap in fakes.
type Transport interface {
	FetchHistory(ctx context.Context, sessionID string) ([]chat.Message, error)
	Send(ctx context.Context, req proxy.SendRequest) (*proxy.SendResult, error)
}

// Controller drives one profile's widget. All mutating entry points are
// safe for concurrent use; at most one message exchange is in flight at a
// time (a second Submit returns ErrBusy).
type Controller struct {
	session   *chat.Session
	transport Transport
	catalogue *suggest.Catalogue
	pager     *suggest.Pager
	logger    *slog.Logger

	mu           sync.Mutex
	panel        PanelState
	status       chat.SyncStatus
	unread       bool
	input        string
	inputFocused bool
	inFlight     bool
	lastNotice   *Notice
}

// NewController builds a controller over a session and transport. A nil
// catalogue falls back to the default one.
func NewController(session *chat.Session, transport Transport, catalogue *suggest.Catalogue, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	if catalogue == nil {
		catalogue = suggest.DefaultCatalogue()
	}
	return &Controller{
		session:   session,
		transport: transport,
		catalogue: catalogue,
		pager:     suggest.NewPager(),
		panel:     PanelClosed,
		status:    chat.StatusIdle,
		logger:    logger.With("component", "widget", "profile", session.ProfileID),
	}
}

// Session returns the underlying session context.
func (c *Controller) Session() *chat.Session {
	return c.session
}

// ---------- Boot and retry ----------

// Boot brings the widget up. If a fallback from an earlier failure is still
// persisted in the session scope, it is shown without a network call; the
// remote history is only refetched on an explicit Retry. Otherwise the
// remote history is fetched and mirrored into the store.
func (c *Controller) Boot(ctx context.Context) error {
	c.session.Touch()

	if _, ok := c.session.Fallback(); ok {
		c.mu.Lock()
		c.moveStatusLocked(chat.StatusSyncing)
		c.moveStatusLocked(chat.StatusError)
		c.mu.Unlock()
		c.logger.Debug("boot served from persisted fallback")
		return nil
	}
	return c.refresh(ctx)
}

// Retry clears the persisted fallback and refetches the remote history.
func (c *Controller) Retry(ctx context.Context) error {
	c.session.ClearFallback()
	c.mu.Lock()
	c.lastNotice = nil
	c.mu.Unlock()
	return c.refresh(ctx)
}

func (c *Controller) refresh(ctx context.Context) error {
	c.mu.Lock()
	c.moveStatusLocked(chat.StatusSyncing)
	c.mu.Unlock()

	msgs, err := c.transport.FetchHistory(ctx, c.session.ID())
	if err != nil {
		c.session.SetFallback(chat.AssistantMessage(FallbackPlaybook))
		c.mu.Lock()
		c.moveStatusLocked(chat.StatusError)
		c.lastNotice = &Notice{Level: NoticeError, Text: "Couldn't reach the assistant. Showing the offline playbook."}
		c.mu.Unlock()
		c.logger.Warn("history fetch failed", "err", err)
		return fmt.Errorf("fetching history: %w", err)
	}

	if len(msgs) > 0 {
		c.session.Store().Replace(msgs)
	}

	c.mu.Lock()
	if len(msgs) > 0 {
		c.moveStatusLocked(chat.StatusConnected)
	} else {
		c.moveStatusLocked(chat.StatusIdle)
	}
	c.mu.Unlock()

	c.logger.Debug("history synced", "messages", len(msgs))
	return nil
}

// ---------- Submit ----------

// Submit sends one user message through the transport with optimistic
// history updates. The conversation state is fully settled by the time
// Submit returns; the returned error reports the outcome so callers can
// pick their surface (HTTP status, REPL line). A non-nil onToken observes
// the streamed chunks as they are applied to the store.
//
// Success settles the placeholder and sets status connected. A recoverable
// failure rolls back both optimistic entries and restores the typed text. A
// fatal failure keeps the user message, drops the placeholder, and persists
// the fallback playbook.
func (c *Controller) Submit(ctx context.Context, text string, onToken proxy.StreamCallback) error {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return ErrEmptyMessage
	}

	c.mu.Lock()
	if c.inFlight {
		c.mu.Unlock()
		return ErrBusy
	}
	c.inFlight = true
	c.moveStatusLocked(chat.StatusSyncing)
	c.input = trimmed
	c.inputFocused = false
	c.mu.Unlock()

	c.session.Touch()

	store := c.session.Store()
	history := store.Messages()
	store.Append(chat.UserMessage(trimmed), chat.AssistantMessage(""))

	tgContext := ""
	if tg := c.session.Telegram(); tg != nil {
		tgContext = fmt.Sprintf("The member is reachable on Telegram as @%s.", tg.Username)
	}

	var streamed strings.Builder
	result, err := c.transport.Send(ctx, proxy.SendRequest{
		SessionID: c.session.ID(),
		Message:   trimmed,
		History:   history,
		Context:   tgContext,
		OnToken: func(chunk string) {
			streamed.WriteString(chunk)
			store.ReplaceLast(streamed.String())
			if onToken != nil {
				onToken(chunk)
			}
		},
	})
	if err != nil {
		return c.settleFailure(trimmed, err)
	}

	store.FinalizeLast(result.AssistantMessage.Content)

	c.mu.Lock()
	c.moveStatusLocked(chat.StatusConnected)
	c.input = ""
	if c.panel != PanelExpanded {
		c.unread = true
	}
	c.lastNotice = nil
	c.inFlight = false
	c.mu.Unlock()

	c.logger.Debug("message settled", "answer_len", len(result.AssistantMessage.Content))
	return nil
}

// settleFailure applies the rollback rules for a failed send.
func (c *Controller) settleFailure(typed string, err error) error {
	store := c.session.Store()

	if proxy.KindOf(err) == proxy.ErrKindRecoverable {
		// The request was rejected, not lost: drop the optimistic pair and
		// hand the typed text back for editing.
		store.DropLast(2)
		c.mu.Lock()
		c.moveStatusLocked(chat.StatusIdle)
		c.input = typed
		c.inputFocused = true
		c.lastNotice = &Notice{Level: NoticeWarning, Text: "The assistant couldn't accept that message. Edit it and try again."}
		c.inFlight = false
		c.mu.Unlock()
		c.logger.Warn("send rejected", "err", err)
		return fmt.Errorf("sending message: %w", err)
	}

	// Fatal: keep the user message, drop the placeholder, show the playbook.
	store.DropLast(1)
	c.session.SetFallback(chat.AssistantMessage(FallbackPlaybook))
	c.mu.Lock()
	c.moveStatusLocked(chat.StatusError)
	c.input = ""
	if c.panel != PanelExpanded {
		c.unread = true
	}
	c.lastNotice = &Notice{Level: NoticeError, Text: "Lost the connection to the assistant. Showing the offline playbook."}
	c.inFlight = false
	c.mu.Unlock()
	c.logger.Error("send failed", "err", err)
	return fmt.Errorf("sending message: %w", err)
}

// ---------- Panel ----------

// Open expands the panel (from closed or minimized) and clears the unread
// flag.
func (c *Controller) Open() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.panel = PanelExpanded
	c.unread = false
}

// Close hides the widget.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.panel = PanelClosed
}

// Minimize docks an expanded panel. No-op unless expanded.
func (c *Controller) Minimize() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.panel == PanelExpanded {
		c.panel = PanelMinimized
	}
}

// Panel returns the current panel state.
func (c *Controller) Panel() PanelState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.panel
}

// Unread reports whether an assistant message settled while the panel was
// not expanded.
func (c *Controller) Unread() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unread
}

// ---------- Input ----------

// UseSuggestion copies a suggestion's exact text into the input field and
// focuses it. The message is not sent until the user submits.
func (c *Controller) UseSuggestion(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.input = text
	c.inputFocused = true
}

// SetInput replaces the typed text.
func (c *Controller) SetInput(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.input = text
}

// Input returns the current typed text.
func (c *Controller) Input() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.input
}

// InputFocused reports whether the input field requested focus.
func (c *Controller) InputFocused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inputFocused
}

// ---------- Views ----------

// Status returns the current sync status.
func (c *Controller) Status() chat.SyncStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// LastNotice returns the most recent user-visible notice, or nil.
func (c *Controller) LastNotice() *Notice {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastNotice == nil {
		return nil
	}
	n := *c.lastNotice
	return &n
}

// Conversation returns the displayed messages: the stored history plus the
// session-scoped fallback, if one is set.
func (c *Controller) Conversation() []chat.Message {
	msgs := c.session.Store().Messages()
	if fb, ok := c.session.Fallback(); ok {
		msgs = append(msgs, fb)
	}
	return msgs
}

// Suggestions returns the current page of the suggestion deck.
func (c *Controller) Suggestions() []suggest.Ranked {
	in := c.rankInput()
	deck := suggest.Rank(in, c.catalogue)
	return c.pager.Page(deck, len(in.Messages), in.Status, c.profileKey())
}

// CycleSuggestions advances the deck to the next page and returns it.
func (c *Controller) CycleSuggestions() []suggest.Ranked {
	in := c.rankInput()
	deck := suggest.Rank(in, c.catalogue)
	key := c.profileKey()

	// Sync the pager key first; a state change resets to page zero and the
	// cycle advances from there.
	c.pager.Page(deck, len(in.Messages), in.Status, key)
	c.pager.Cycle()
	return c.pager.Page(deck, len(in.Messages), in.Status, key)
}

// State is a point-in-time snapshot for API consumers.
type State struct {
	Panel        string `json:"panel"`
	Status       string `json:"status"`
	Unread       bool   `json:"unread"`
	Input        string `json:"input"`
	InputFocused bool   `json:"input_focused"`
	Messages     int    `json:"messages"`
	HasFallback  bool   `json:"has_fallback"`
	SessionID    string `json:"session_id"`
}

// Snapshot captures the widget state for the API surface.
func (c *Controller) Snapshot() State {
	_, hasFallback := c.session.Fallback()
	msgCount := c.session.Store().Len()
	sessionID := c.session.ID()

	c.mu.Lock()
	defer c.mu.Unlock()
	return State{
		Panel:        c.panel.String(),
		Status:       c.status.String(),
		Unread:       c.unread,
		Input:        c.input,
		InputFocused: c.inputFocused,
		Messages:     msgCount,
		HasFallback:  hasFallback,
		SessionID:    sessionID,
	}
}

// Reset clears the conversation, the fallback, and the widget state back to
// idle. The remote session history is not touched.
func (c *Controller) Reset() {
	c.session.Store().Reset()
	c.session.ClearFallback()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.moveStatusLocked(chat.StatusIdle)
	c.input = ""
	c.inputFocused = false
	c.unread = false
	c.lastNotice = nil
}

// ---------- Helpers ----------

// moveStatusLocked advances the sync status, inserting the idle hop where
// the direct transition is not permitted (connected cannot reach syncing
// directly). Callers hold mu.
func (c *Controller) moveStatusLocked(to chat.SyncStatus) {
	if c.status == to {
		return
	}
	if chat.CanTransition(c.status, to) {
		c.status = to
		return
	}
	if chat.CanTransition(c.status, chat.StatusIdle) && chat.CanTransition(chat.StatusIdle, to) {
		c.status = chat.StatusIdle
		c.status = to
		return
	}
	c.logger.Warn("illegal status transition dropped", "from", c.status, "to", to)
}

func (c *Controller) rankInput() suggest.Input {
	c.mu.Lock()
	status := c.status
	c.mu.Unlock()

	return suggest.Input{
		Messages:       c.session.Store().Messages(),
		Status:         status,
		TelegramLinked: c.session.Telegram() != nil,
	}
}

// profileKey identifies the linked profile for pagination resets.
func (c *Controller) profileKey() string {
	if tg := c.session.Telegram(); tg != nil {
		return tg.Username
	}
	return ""
}
