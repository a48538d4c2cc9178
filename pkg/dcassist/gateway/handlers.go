package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dynamic-capital/dcassist/pkg/dcassist/proxy"
	"github.com/dynamic-capital/dcassist/pkg/dcassist/widget"
)

const version = "1.0.0"

// profileRequest is the common body for operations keyed by profile only.
type profileRequest struct {
	Profile string `json:"profile"`
}

type chatRequest struct {
	Profile string `json:"profile"`
	Message string `json:"message"`
}

type inputRequest struct {
	Profile string `json:"profile"`
	Text    string `json:"text"`
}

type telegramLinkRequest struct {
	Profile  string `json:"profile"`
	ChatID   int64  `json:"chat_id"`
	Username string `json:"username"`
}

// errorResponse is the consistent error format.
type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

func (g *Gateway) writeError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	enc := json.NewEncoder(w)
	_ = enc.Encode(errorResponse{Error: struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	}{Message: msg, Code: code}})
}

func (g *Gateway) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	_ = enc.Encode(v)
}

// decodeBody reads a JSON body capped at 1MB.
func decodeBody(r *http.Request, dst any) error {
	defer r.Body.Close()
	return json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(dst)
}

// controllerFor resolves a profile's controller, writing the error response
// itself when the profile is missing or invalid.
func (g *Gateway) controllerFor(w http.ResponseWriter, profileID string) (*widget.Controller, bool) {
	if profileID == "" {
		g.writeError(w, "profile required", http.StatusBadRequest)
		return nil, false
	}
	ctrl, err := g.assistant.Controller(profileID)
	if err != nil {
		g.writeError(w, "invalid profile: "+err.Error(), http.StatusBadRequest)
		return nil, false
	}
	return ctrl, true
}

// statusForError maps a submit failure to an HTTP status. Rejected input is
// the caller's to fix; everything else is an upstream fault.
func statusForError(err error) int {
	switch {
	case errors.Is(err, widget.ErrEmptyMessage):
		return http.StatusBadRequest
	case errors.Is(err, widget.ErrBusy):
		return http.StatusConflict
	}
	if proxy.KindOf(err) == proxy.ErrKindRecoverable {
		return http.StatusUnprocessableEntity
	}
	return http.StatusBadGateway
}

// widgetView is the uniform response for widget state mutations.
func (g *Gateway) widgetView(c *widget.Controller) map[string]any {
	view := map[string]any{
		"state":       c.Snapshot(),
		"suggestions": c.Suggestions(),
	}
	if n := c.LastNotice(); n != nil {
		view["notice"] = n
	}
	return view
}

func mustJSON(v any) string {
	b, _ := json.Marshal(v)
	return string(b)
}

// handleHealth implements GET /health
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	uptime := time.Since(g.startedAt).Round(time.Second).String()
	if uptime == "0s" {
		uptime = "<1s"
	}
	g.writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": version,
		"uptime":  uptime,
		"service": g.assistant.HealthSnapshot(),
	})
}

// handleChat implements POST /api/chat. With Accept: text/event-stream the
// assistant tokens are relayed as SSE chunks in the same wire format the
// upstream proxy speaks; otherwise the settled answer is returned as JSON.
func (g *Gateway) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeBody(r, &req); err != nil {
		g.writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	ctrl, ok := g.controllerFor(w, req.Profile)
	if !ok {
		return
	}

	if strings.Contains(r.Header.Get("Accept"), "text/event-stream") {
		g.handleChatStream(w, r, ctrl, req.Message)
		return
	}

	var answer strings.Builder
	err := ctrl.Submit(r.Context(), req.Message, func(chunk string) {
		answer.WriteString(chunk)
	})
	if err != nil {
		g.writeError(w, err.Error(), statusForError(err))
		return
	}
	g.writeJSON(w, http.StatusOK, map[string]any{
		"answer": answer.String(),
		"state":  ctrl.Snapshot(),
	})
}

func (g *Gateway) handleChatStream(w http.ResponseWriter, r *http.Request, ctrl *widget.Controller, message string) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher, ok := w.(http.Flusher)
	if !ok {
		flusher = nil
	}

	err := ctrl.Submit(r.Context(), message, func(chunk string) {
		fmt.Fprintf(w, "data: %s\n\n", mustJSON(map[string]string{"content": chunk}))
		if flusher != nil {
			flusher.Flush()
		}
	})
	if err != nil {
		g.logger.Error("chat stream failed", "error", err)
		fmt.Fprintf(w, "data: %s\n\n", mustJSON(map[string]string{
			"error": err.Error(),
			"kind":  proxy.KindOf(err).String(),
		}))
		return
	}
	fmt.Fprintf(w, "data: [DONE]\n\n")
	if flusher != nil {
		flusher.Flush()
	}
}

// handleHistory implements GET /api/chat/history?profile=
func (g *Gateway) handleHistory(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := g.controllerFor(w, r.URL.Query().Get("profile"))
	if !ok {
		return
	}
	g.writeJSON(w, http.StatusOK, map[string]any{
		"session_id": ctrl.Session().ID(),
		"status":     ctrl.Status().String(),
		"messages":   ctrl.Conversation(),
	})
}

// handleRetry implements POST /api/chat/retry. The outcome lands in the
// returned state: connected or idle on success, error with a fresh fallback
// when the upstream is still unreachable.
func (g *Gateway) handleRetry(w http.ResponseWriter, r *http.Request) {
	var req profileRequest
	if err := decodeBody(r, &req); err != nil {
		g.writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	ctrl, ok := g.controllerFor(w, req.Profile)
	if !ok {
		return
	}
	if err := ctrl.Retry(r.Context()); err != nil {
		g.logger.Warn("retry failed", "profile", req.Profile, "error", err)
	}
	g.writeJSON(w, http.StatusOK, g.widgetView(ctrl))
}

// handleBoot implements POST /api/widget/boot
func (g *Gateway) handleBoot(w http.ResponseWriter, r *http.Request) {
	var req profileRequest
	if err := decodeBody(r, &req); err != nil {
		g.writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	ctrl, ok := g.controllerFor(w, req.Profile)
	if !ok {
		return
	}
	if err := ctrl.Boot(r.Context()); err != nil {
		g.logger.Warn("boot fell back", "profile", req.Profile, "error", err)
	}
	g.writeJSON(w, http.StatusOK, g.widgetView(ctrl))
}

// handleWidgetState implements GET /api/widget?profile=
func (g *Gateway) handleWidgetState(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := g.controllerFor(w, r.URL.Query().Get("profile"))
	if !ok {
		return
	}
	g.writeJSON(w, http.StatusOK, g.widgetView(ctrl))
}

// panelHandler builds the open/close/minimize handlers.
func (g *Gateway) panelHandler(action string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req profileRequest
		if err := decodeBody(r, &req); err != nil {
			g.writeError(w, "invalid request body", http.StatusBadRequest)
			return
		}
		ctrl, ok := g.controllerFor(w, req.Profile)
		if !ok {
			return
		}
		switch action {
		case "open":
			ctrl.Open()
		case "close":
			ctrl.Close()
		case "minimize":
			ctrl.Minimize()
		}
		g.writeJSON(w, http.StatusOK, g.widgetView(ctrl))
	}
}

// handleInput implements POST /api/widget/input
func (g *Gateway) handleInput(w http.ResponseWriter, r *http.Request) {
	var req inputRequest
	if err := decodeBody(r, &req); err != nil {
		g.writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	ctrl, ok := g.controllerFor(w, req.Profile)
	if !ok {
		return
	}
	ctrl.SetInput(req.Text)
	g.writeJSON(w, http.StatusOK, g.widgetView(ctrl))
}

// handleUseSuggestion implements POST /api/widget/suggestion
func (g *Gateway) handleUseSuggestion(w http.ResponseWriter, r *http.Request) {
	var req inputRequest
	if err := decodeBody(r, &req); err != nil {
		g.writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Text == "" {
		g.writeError(w, "text required", http.StatusBadRequest)
		return
	}
	ctrl, ok := g.controllerFor(w, req.Profile)
	if !ok {
		return
	}
	ctrl.UseSuggestion(req.Text)
	g.writeJSON(w, http.StatusOK, g.widgetView(ctrl))
}

// handleReset implements POST /api/widget/reset
func (g *Gateway) handleReset(w http.ResponseWriter, r *http.Request) {
	var req profileRequest
	if err := decodeBody(r, &req); err != nil {
		g.writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	ctrl, ok := g.controllerFor(w, req.Profile)
	if !ok {
		return
	}
	ctrl.Reset()
	g.writeJSON(w, http.StatusOK, g.widgetView(ctrl))
}

// handleSuggestions implements GET /api/suggestions?profile=
func (g *Gateway) handleSuggestions(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := g.controllerFor(w, r.URL.Query().Get("profile"))
	if !ok {
		return
	}
	g.writeJSON(w, http.StatusOK, map[string]any{"suggestions": ctrl.Suggestions()})
}

// handleCycleSuggestions implements POST /api/suggestions/cycle
func (g *Gateway) handleCycleSuggestions(w http.ResponseWriter, r *http.Request) {
	var req profileRequest
	if err := decodeBody(r, &req); err != nil {
		g.writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	ctrl, ok := g.controllerFor(w, req.Profile)
	if !ok {
		return
	}
	g.writeJSON(w, http.StatusOK, map[string]any{"suggestions": ctrl.CycleSuggestions()})
}

// handleTelegramLink implements POST /api/telegram/link
func (g *Gateway) handleTelegramLink(w http.ResponseWriter, r *http.Request) {
	var req telegramLinkRequest
	if err := decodeBody(r, &req); err != nil {
		g.writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Profile == "" {
		g.writeError(w, "profile required", http.StatusBadRequest)
		return
	}
	if req.ChatID == 0 || req.Username == "" {
		g.writeError(w, "chat_id and username required", http.StatusBadRequest)
		return
	}
	if err := g.assistant.LinkTelegram(r.Context(), req.Profile, req.ChatID, req.Username); err != nil {
		g.writeError(w, "invalid profile: "+err.Error(), http.StatusBadRequest)
		return
	}
	g.writeJSON(w, http.StatusOK, map[string]string{"status": "linked"})
}

// handleTelegramUnlink implements POST /api/telegram/unlink
func (g *Gateway) handleTelegramUnlink(w http.ResponseWriter, r *http.Request) {
	var req profileRequest
	if err := decodeBody(r, &req); err != nil {
		g.writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := g.assistant.UnlinkTelegram(req.Profile); err != nil {
		g.writeError(w, err.Error(), http.StatusNotFound)
		return
	}
	g.writeJSON(w, http.StatusOK, map[string]string{"status": "unlinked"})
}

// handleTelegramLinkURL implements GET /api/telegram/link-url?profile=
func (g *Gateway) handleTelegramLinkURL(w http.ResponseWriter, r *http.Request) {
	profile := r.URL.Query().Get("profile")
	if profile == "" {
		g.writeError(w, "profile required", http.StatusBadRequest)
		return
	}
	url := g.assistant.Telegram().LinkURL(profile)
	if url == "" {
		g.writeError(w, "telegram linking is not configured", http.StatusNotFound)
		return
	}
	g.writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

// handleListSessions implements GET /api/sessions
func (g *Gateway) handleListSessions(w http.ResponseWriter, r *http.Request) {
	g.writeJSON(w, http.StatusOK, map[string]any{"sessions": g.assistant.Sessions().List()})
}

// handleDeleteProfile implements DELETE /api/profiles/{profileID}
func (g *Gateway) handleDeleteProfile(w http.ResponseWriter, r *http.Request) {
	profileID := chi.URLParam(r, "profileID")
	if profileID == "" {
		g.writeError(w, "profile id required", http.StatusBadRequest)
		return
	}
	if err := g.assistant.DeleteProfile(profileID); err != nil {
		g.writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	g.writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
