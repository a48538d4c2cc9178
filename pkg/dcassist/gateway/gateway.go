// Package gateway exposes the assistant over HTTP for web widget embeds.
package gateway

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/dynamic-capital/dcassist/pkg/dcassist/assist"
)

// Gateway is the HTTP front for the widget controllers.
type Gateway struct {
	assistant *assist.Assistant
	config    assist.GatewayConfig
	server    *http.Server
	logger    *slog.Logger
	startedAt time.Time
}

// New creates a new Gateway.
func New(assistant *assist.Assistant, cfg assist.GatewayConfig, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Address == "" {
		cfg.Address = ":8090"
	}
	return &Gateway{
		assistant: assistant,
		config:    cfg,
		logger:    logger.With("component", "gateway"),
	}
}

func (g *Gateway) router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(g.securityHeaders)
	r.Use(g.cors)

	// Health stays public; auth applies to the API group only.
	r.Get("/health", g.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Use(g.auth)

		r.Post("/chat", g.handleChat)
		r.Get("/chat/history", g.handleHistory)
		r.Post("/chat/retry", g.handleRetry)

		r.Get("/suggestions", g.handleSuggestions)
		r.Post("/suggestions/cycle", g.handleCycleSuggestions)

		r.Post("/widget/boot", g.handleBoot)
		r.Get("/widget", g.handleWidgetState)
		r.Post("/widget/open", g.panelHandler("open"))
		r.Post("/widget/close", g.panelHandler("close"))
		r.Post("/widget/minimize", g.panelHandler("minimize"))
		r.Post("/widget/input", g.handleInput)
		r.Post("/widget/suggestion", g.handleUseSuggestion)
		r.Post("/widget/reset", g.handleReset)

		r.Post("/telegram/link", g.handleTelegramLink)
		r.Post("/telegram/unlink", g.handleTelegramUnlink)
		r.Get("/telegram/link-url", g.handleTelegramLinkURL)

		r.Get("/sessions", g.handleListSessions)
		r.Delete("/profiles/{profileID}", g.handleDeleteProfile)
	})

	return r
}

// Start starts the HTTP server.
func (g *Gateway) Start(ctx context.Context) error {
	g.startedAt = time.Now()
	g.server = &http.Server{
		Addr:              g.config.Address,
		Handler:           g.router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Warn when the gateway has no auth token and is bound to a non-loopback
	// address: anyone on the network could drive member sessions.
	if g.config.AuthToken == "" {
		host, _, _ := net.SplitHostPort(g.config.Address)
		if host == "" {
			host = "0.0.0.0"
		}
		ip := net.ParseIP(host)
		isLoopback := ip != nil && ip.IsLoopback()
		if !isLoopback && host != "localhost" {
			g.logger.Warn("SECURITY: gateway has no auth token and is bound to a non-loopback address",
				"address", g.config.Address)
		}
	}

	go func() {
		if err := g.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			g.logger.Error("gateway server error", "error", err)
		}
	}()
	g.logger.Info("gateway started", "address", g.config.Address)
	return nil
}

// Stop gracefully shuts down the HTTP server.
func (g *Gateway) Stop(ctx context.Context) error {
	if g.server == nil {
		return nil
	}
	g.logger.Info("gateway stopping...")
	return g.server.Shutdown(ctx)
}
