// state.go defines the widget panel states, user-facing notices, and the
// fixed offline playbook.
package widget

import "errors"

// PanelState is the widget's visibility state. It changes only on explicit
// user actions; the only automatic effect is the unread flag.
type PanelState int

const (
	// PanelClosed hides the widget entirely.
	PanelClosed PanelState = iota

	// PanelExpanded shows the full conversation view.
	PanelExpanded

	// PanelMinimized keeps the widget docked without the conversation view.
	PanelMinimized
)

// String returns the wire name for the panel state.
func (p PanelState) String() string {
	switch p {
	case PanelClosed:
		return "closed"
	case PanelExpanded:
		return "open-expanded"
	case PanelMinimized:
		return "open-minimized"
	default:
		return "unknown"
	}
}

// NoticeLevel grades user-visible notices.
type NoticeLevel int

const (
	NoticeInfo NoticeLevel = iota
	NoticeWarning
	NoticeError
)

// String returns the level's wire name.
func (l NoticeLevel) String() string {
	switch l {
	case NoticeInfo:
		return "info"
	case NoticeWarning:
		return "warning"
	case NoticeError:
		return "error"
	default:
		return "unknown"
	}
}

// Notice is a user-visible toast describing the outcome of an operation.
// Warning notices are non-destructive (the typed text survives); error
// notices accompany the fallback playbook.
type Notice struct {
	Level NoticeLevel `json:"level"`
	Text  string      `json:"text"`
}

var (
	// ErrEmptyMessage rejects a blank submission before any state changes.
	ErrEmptyMessage = errors.New("message is empty")

	// ErrBusy rejects a submit while another message is still in flight.
	// One in-flight exchange per session keeps streamed tokens from landing
	// on the wrong placeholder.
	ErrBusy = errors.New("another message is still in flight")
)

// FallbackPlaybook is the fixed, branded message shown when the assistant
// proxy is unreachable. It is displayed from the session-scoped fallback
// slot and never appended to the persisted history.
const FallbackPlaybook = "I can't reach the assistant service right now, but here is your playbook:\n" +
	"1. Today's signals and market notes are waiting on the VIP dashboard.\n" +
	"2. For anything urgent, message the desk on Telegram (@DynamicCapitalSupport).\n" +
	"3. Your conversation is saved on this device. Try again in a minute."
