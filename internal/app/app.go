// Package app wires the cookie bridge into the host process: it starts the
// bridge according to the GenAI config, feeds pushed cookies into the AI
// client credentials, follows config file changes and tears everything down
// on exit.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/codefionn/cookiebridge/internal/config"
	"github.com/codefionn/cookiebridge/internal/cookiebridge"
	"github.com/codefionn/cookiebridge/internal/genai"
	"github.com/codefionn/cookiebridge/internal/logger"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

// App owns the bridge for the lifetime of the process.
type App struct {
	cfgPath string
	bridge  *cookiebridge.Bridge
	creds   *genai.Credentials
	sub     *cookiebridge.Subscription

	// lifecycleMu serialises bridge reconfiguration; mu guards cfg and client.
	lifecycleMu sync.Mutex
	closed      bool
	mu          sync.RWMutex
	cfg         *config.Config
	client      *genai.Client

	closeOnce sync.Once
	closeErr  error
}

// New creates an App for cfg. cfgPath is where the config is watched and
// persisted; an empty path disables both.
func New(cfg *config.Config, cfgPath string, opts ...cookiebridge.Option) *App {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	a := &App{
		cfgPath: cfgPath,
		cfg:     cfg,
		bridge:  cookiebridge.New(opts...),
		creds:   genai.NewCredentials(cfg.GenAI.CookieHeader, cfg.GenAI.UseCookieBridge),
	}
	a.client = genai.NewClient(cfg.GenAI, a.creds)
	a.sub = a.bridge.Subscribe(a.onCookies)
	return a
}

// Bridge returns the owned cookie bridge.
func (a *App) Bridge() *cookiebridge.Bridge {
	return a.bridge
}

// Credentials returns the AI service credentials fed by the bridge.
func (a *App) Credentials() *genai.Credentials {
	return a.creds
}

// GenAIConfig returns a copy of the current GenAI section.
func (a *App) GenAIConfig() config.GenAIConfig {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.cfg.GenAI
}

// Translate runs text through the AI client using the latest credentials.
func (a *App) Translate(ctx context.Context, text string) (string, error) {
	a.mu.RLock()
	client := a.client
	a.mu.RUnlock()
	return client.Translate(ctx, text)
}

// onCookies is the bridge subscriber. The header only reaches the config
// while the bridge is enabled there.
func (a *App) onCookies(header string) {
	a.creds.Update(header)

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cfg.GenAI.UseCookieBridge {
		a.cfg.GenAI.CookieHeader = header
	}
}

// Start brings the bridge in line with the current config. A bind failure
// is logged and leaves the bridge off; the host keeps running.
func (a *App) Start() {
	a.lifecycleMu.Lock()
	defer a.lifecycleMu.Unlock()
	if a.closed {
		return
	}

	a.mu.RLock()
	genaiCfg := a.cfg.GenAI
	a.mu.RUnlock()

	a.applyBridge(genaiCfg)
}

func (a *App) applyBridge(genaiCfg config.GenAIConfig) {
	if !genaiCfg.UseCookieBridge {
		if a.bridge.Listening() {
			logger.Info("Cookie bridge disabled by config")
		}
		a.bridge.Stop()
		return
	}

	if a.bridge.Listening() && a.bridge.Port() != genaiCfg.BridgePort {
		logger.Info("Cookie bridge moving from port %d to %d", a.bridge.Port(), genaiCfg.BridgePort)
		a.bridge.Stop()
	}

	if err := a.bridge.Start(genaiCfg.BridgePort); err != nil {
		logger.Warn("Cookie bridge not available: %v", err)
	}
}

// ApplyConfig swaps in a reloaded config and restarts the bridge when its
// enable flag or port changed. An enabled bridge that is not listening, e.g.
// after a failed bind, is started again. The in-memory cookie header survives a
// reload that does not carry one.
func (a *App) ApplyConfig(next *config.Config) {
	if next == nil {
		return
	}

	a.lifecycleMu.Lock()
	defer a.lifecycleMu.Unlock()
	if a.closed {
		return
	}

	a.mu.Lock()
	prev := a.cfg.GenAI
	if next.GenAI.CookieHeader == "" {
		next.GenAI.CookieHeader = a.cfg.GenAI.CookieHeader
	}
	if next.SecretsPassword() == "" && a.cfg.SecretsPassword() != "" {
		next.UpdateSecretsPassword(a.cfg.SecretsPassword())
	}
	a.cfg = next
	a.client = genai.NewClient(next.GenAI, a.creds)
	a.mu.Unlock()

	logger.Global().SetLevel(logger.ParseLevel(next.LogLevel))
	a.creds.SetEnabled(next.GenAI.UseCookieBridge)

	changed := prev.UseCookieBridge != next.GenAI.UseCookieBridge || prev.BridgePort != next.GenAI.BridgePort
	if changed || (next.GenAI.UseCookieBridge && !a.bridge.Listening()) {
		a.applyBridge(next.GenAI)
	}
}

// Run starts the bridge, follows config changes and blocks until ctx is
// done, then closes the App.
func (a *App) Run(ctx context.Context) error {
	a.Start()

	g, gctx := errgroup.WithContext(ctx)

	if a.cfgPath != "" {
		a.mu.RLock()
		password := a.cfg.SecretsPassword()
		a.mu.RUnlock()

		watcher := config.NewWatcher(a.cfgPath, password, a.ApplyConfig)
		g.Go(func() error {
			if err := watcher.Run(gctx); err != nil {
				logger.Warn("Config changes will not be followed: %v", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return a.Close(shutdownCtx)
	})

	return g.Wait()
}

// Close stops the bridge, waits for in-flight pushes and persists the
// cookie header when the config asks for it. Close is idempotent.
func (a *App) Close(ctx context.Context) error {
	a.closeOnce.Do(func() {
		var errs []error

		a.lifecycleMu.Lock()
		a.closed = true
		if err := a.bridge.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("cookie bridge shutdown: %w", err))
		}
		a.lifecycleMu.Unlock()
		a.sub.Unsubscribe()

		a.mu.RLock()
		if a.cfgPath != "" && a.cfg.GenAI.PersistCookieHeader {
			if err := a.cfg.Save(a.cfgPath); err != nil {
				errs = append(errs, fmt.Errorf("persist config: %w", err))
			} else {
				logger.Info("Persisted cookie header to %s", a.cfgPath)
			}
		}
		a.mu.RUnlock()

		a.creds.Clear()
		a.closeErr = errors.Join(errs...)
	})
	return a.closeErr
}
