// Package assist – assistant.go wires the service together: the session
// manager over per-profile storage scopes, the history journal, the proxy
// transport, per-profile widget controllers, and maintenance jobs.
package assist

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dynamic-capital/dcassist/pkg/dcassist/chat"
	"github.com/dynamic-capital/dcassist/pkg/dcassist/persist"
	"github.com/dynamic-capital/dcassist/pkg/dcassist/proxy"
	"github.com/dynamic-capital/dcassist/pkg/dcassist/scheduler"
	"github.com/dynamic-capital/dcassist/pkg/dcassist/suggest"
	"github.com/dynamic-capital/dcassist/pkg/dcassist/telegram"
	"github.com/dynamic-capital/dcassist/pkg/dcassist/widget"
)

// Assistant is the top-level service object. It owns one widget controller
// per profile and the shared infrastructure underneath them.
type Assistant struct {
	config *Config

	// sessions manages per-profile session contexts and storage scopes.
	sessions *chat.SessionManager

	// transport is the proxy client; tests swap in fakes via SetTransport
	// before controllers are created.
	transport widget.Transport

	// journal is the optional full-history journal (nil when disabled).
	journal chat.HistoryPersister

	// telegram is the Bot API client for profile links and notifications.
	telegram *telegram.Client

	// catalogue is the shared suggestion catalogue.
	catalogue *suggest.Catalogue

	// sched runs background maintenance (session pruning, journal upkeep).
	sched *scheduler.Scheduler

	// vault holds the unlocked secret vault, nil if unavailable.
	vault *Vault

	controllers map[string]*widget.Controller
	ctrlMu      sync.RWMutex

	logger *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates an Assistant from config. Storage directories are created
// eagerly so a misconfigured path fails at startup, not mid-conversation.
func New(cfg *Config, logger *slog.Logger) (*Assistant, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	journal, err := buildJournal(cfg.Storage, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing journal: %w", err)
	}

	a := &Assistant{
		config:      cfg,
		transport:   proxy.NewClient(cfg.Proxy, logger),
		journal:     journal,
		telegram:    telegram.New(cfg.Telegram, logger),
		catalogue:   suggest.DefaultCatalogue(),
		sched:       scheduler.New(logger),
		controllers: make(map[string]*widget.Controller),
		logger:      logger.With("component", "assistant"),
	}

	a.sessions = chat.NewSessionManager(a.scopeFactory(), logger)
	a.sessions.SetTTL(cfg.Sessions.TTL())
	a.sessions.SetMaxSessions(cfg.Sessions.MaxSessions)

	if cfg.Scheduler.Enabled {
		if err := a.registerMaintenanceJobs(); err != nil {
			return nil, fmt.Errorf("registering maintenance jobs: %w", err)
		}
	}

	return a, nil
}

// buildJournal creates the configured history journal backend.
func buildJournal(cfg StorageConfig, logger *slog.Logger) (chat.HistoryPersister, error) {
	switch cfg.Journal {
	case "", JournalJSONL:
		path := cfg.Path
		if path == "" {
			path = filepath.Join(cfg.Dir, "history")
		}
		return persist.NewJSONLJournal(path, logger)
	case JournalSQLite:
		path := cfg.Path
		if path == "" {
			path = filepath.Join(cfg.Dir, "dcassist.db")
		}
		return persist.NewSQLiteJournal(path, logger)
	case JournalNone:
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown journal backend %q", cfg.Journal)
	}
}

// scopeFactory builds the per-profile storage scopes: a file store for the
// durable mirror and an in-memory store for session-scoped state.
func (a *Assistant) scopeFactory() chat.ScopeFactory {
	return func(profileID string) (chat.KV, chat.KV, error) {
		if profileID == "" || strings.ContainsAny(profileID, "/\\") || strings.Contains(profileID, "..") {
			return nil, nil, fmt.Errorf("invalid profile id %q", profileID)
		}
		dir := filepath.Join(a.config.Storage.Dir, "profiles", profileID)
		local, err := persist.NewFileStore(dir, a.logger)
		if err != nil {
			return nil, nil, fmt.Errorf("creating profile store: %w", err)
		}
		return local, persist.NewMemStore(), nil
	}
}

// registerMaintenanceJobs wires the scheduler jobs from config.
func (a *Assistant) registerMaintenanceJobs() error {
	cfg := a.config.Scheduler

	if err := a.sched.Add("session-prune", cfg.PruneSpec, func(ctx context.Context) error {
		a.sessions.Prune()
		return nil
	}); err != nil {
		return err
	}

	switch j := a.journal.(type) {
	case *persist.JSONLJournal:
		keep := cfg.RotateKeepLines
		if keep <= 0 {
			keep = 2000
		}
		return a.sched.Add("journal-rotate", cfg.MaintenanceSpec, func(ctx context.Context) error {
			profiles, err := j.Profiles()
			if err != nil {
				return err
			}
			for _, p := range profiles {
				if err := j.Rotate(p, keep); err != nil {
					return fmt.Errorf("rotating %s: %w", p, err)
				}
			}
			return nil
		})
	case *persist.SQLiteJournal:
		return a.sched.Add("journal-vacuum", cfg.MaintenanceSpec, func(ctx context.Context) error {
			return j.Vacuum()
		})
	}
	return nil
}

// Start brings up background work: the maintenance scheduler (or the plain
// session pruner when the scheduler is disabled) and Telegram verification.
func (a *Assistant) Start(ctx context.Context) error {
	a.ctx, a.cancel = context.WithCancel(ctx)

	if a.config.Scheduler.Enabled {
		if err := a.sched.Start(a.ctx); err != nil {
			return fmt.Errorf("starting scheduler: %w", err)
		}
	} else {
		a.sessions.StartPruner(a.ctx)
	}

	if a.telegram.Enabled() {
		if _, err := a.telegram.Verify(a.ctx); err != nil {
			// The chat pipeline works without Telegram; keep running.
			a.logger.Warn("telegram verification failed", "error", err)
		}
	}

	a.logger.Info("assistant started",
		"name", a.config.Name,
		"journal", a.journalName(),
		"telegram", a.telegram.Enabled(),
	)
	return nil
}

// Stop shuts down background work and closes the journal.
func (a *Assistant) Stop() {
	if a.config.Scheduler.Enabled {
		a.sched.Stop()
	}
	if a.cancel != nil {
		a.cancel()
	}
	if a.journal != nil {
		if err := a.journal.Close(); err != nil {
			a.logger.Warn("failed to close journal", "error", err)
		}
	}
	a.logger.Info("assistant stopped")
}

// ---------- Controllers ----------

// Controller returns the widget controller for a profile, creating it (and
// its session) on first use.
func (a *Assistant) Controller(profileID string) (*widget.Controller, error) {
	a.ctrlMu.RLock()
	if c, ok := a.controllers[profileID]; ok {
		a.ctrlMu.RUnlock()
		return c, nil
	}
	a.ctrlMu.RUnlock()

	a.ctrlMu.Lock()
	defer a.ctrlMu.Unlock()

	// Double-check after acquiring the write lock.
	if c, ok := a.controllers[profileID]; ok {
		return c, nil
	}

	session, err := a.sessions.GetOrCreate(profileID)
	if err != nil {
		return nil, err
	}
	if a.journal != nil {
		session.Store().SetJournal(a.journal, profileID, session.ID())
	}

	c := widget.NewController(session, a.transport, a.catalogue, a.logger)
	a.controllers[profileID] = c
	return c, nil
}

// DeleteProfile removes a profile's controller, session, journal rows, and
// on-disk mirror.
func (a *Assistant) DeleteProfile(profileID string) error {
	a.ctrlMu.Lock()
	delete(a.controllers, profileID)
	a.ctrlMu.Unlock()

	a.sessions.Delete(profileID)

	if a.journal != nil {
		if err := a.journal.DeleteProfile(profileID); err != nil {
			return fmt.Errorf("deleting journal rows: %w", err)
		}
	}

	dir := filepath.Join(a.config.Storage.Dir, "profiles", profileID)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("deleting profile store: %w", err)
	}

	a.logger.Info("profile deleted", "profile", profileID)
	return nil
}

// ---------- Telegram ----------

// LinkTelegram attaches a Telegram identity to a profile and, when the bot
// is configured, sends a confirmation message to the linked chat.
func (a *Assistant) LinkTelegram(ctx context.Context, profileID string, chatID int64, username string) error {
	session, err := a.sessions.GetOrCreate(profileID)
	if err != nil {
		return err
	}
	session.LinkTelegram(chat.TelegramProfile{ChatID: chatID, Username: username})
	a.logger.Info("telegram linked", "profile", profileID, "username", username)

	if a.telegram.Enabled() && chatID != 0 {
		text := fmt.Sprintf("You're linked to %s. Signals and alerts will land here.", a.config.Name)
		if err := a.telegram.Notify(ctx, chatID, text); err != nil {
			a.logger.Warn("failed to send link confirmation", "error", err)
		}
	}
	return nil
}

// UnlinkTelegram removes a profile's Telegram identity.
func (a *Assistant) UnlinkTelegram(profileID string) error {
	session := a.sessions.Get(profileID)
	if session == nil {
		return fmt.Errorf("profile %q not found", profileID)
	}
	session.UnlinkTelegram()
	a.logger.Info("telegram unlinked", "profile", profileID)
	return nil
}

// ---------- Accessors ----------

// Config returns the active configuration.
func (a *Assistant) Config() *Config { return a.config }

// Sessions returns the session manager.
func (a *Assistant) Sessions() *chat.SessionManager { return a.sessions }

// Telegram returns the Telegram client.
func (a *Assistant) Telegram() *telegram.Client { return a.telegram }

// Catalogue returns the shared suggestion catalogue.
func (a *Assistant) Catalogue() *suggest.Catalogue { return a.catalogue }

// Jobs returns the status of registered maintenance jobs.
func (a *Assistant) Jobs() []scheduler.JobStatus { return a.sched.Jobs() }

// SetVault attaches the unlocked secret vault.
func (a *Assistant) SetVault(v *Vault) { a.vault = v }

// Vault returns the unlocked vault, or nil.
func (a *Assistant) Vault() *Vault { return a.vault }

// SetTransport replaces the proxy transport. Must be called before any
// controller is created; existing controllers keep their transport.
func (a *Assistant) SetTransport(t widget.Transport) { a.transport = t }

// Health is a point-in-time service snapshot.
type Health struct {
	Name     string                `json:"name"`
	Sessions int                   `json:"sessions"`
	Journal  string                `json:"journal"`
	Telegram bool                  `json:"telegram"`
	Jobs     []scheduler.JobStatus `json:"jobs,omitempty"`
}

// HealthSnapshot reports the current service state.
func (a *Assistant) HealthSnapshot() Health {
	return Health{
		Name:     a.config.Name,
		Sessions: a.sessions.Count(),
		Journal:  a.journalName(),
		Telegram: a.telegram.Enabled(),
		Jobs:     a.sched.Jobs(),
	}
}

func (a *Assistant) journalName() string {
	switch a.journal.(type) {
	case *persist.JSONLJournal:
		return JournalJSONL
	case *persist.SQLiteJournal:
		return JournalSQLite
	default:
		return JournalNone
	}
}
