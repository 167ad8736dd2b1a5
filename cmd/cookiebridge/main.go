package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/codefionn/cookiebridge/internal/app"
	"github.com/codefionn/cookiebridge/internal/config"
	"github.com/codefionn/cookiebridge/internal/cookiebridge"
	"github.com/codefionn/cookiebridge/internal/lockfile"
	"github.com/codefionn/cookiebridge/internal/logger"
	"github.com/codefionn/cookiebridge/internal/secrets"
	"github.com/codefionn/cookiebridge/internal/securemem"
	"golang.org/x/term"
)

const maxPasswordAttempts = 3

type options struct {
	configPath string
	port       int
	translate  string
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() (err error) {
	opts, parseErr := parseArgs(os.Args[1:])
	if parseErr != nil {
		if errors.Is(parseErr, flag.ErrHelp) {
			return nil
		}
		return parseErr
	}
	defer securemem.Cleanup()

	var loggerInitialized bool
	defer func() {
		if !loggerInitialized {
			return
		}
		if err != nil {
			logger.Error("Fatal error: %v", err)
		}
		if closeErr := logger.Global().Close(); closeErr != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close logger: %v\n", closeErr)
		}
	}()

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	applyEnvOverrides(cfg)
	if opts.port > 0 {
		cfg.GenAI.BridgePort = opts.port
	}

	if _, err := ensureSecretsPassword(cfg); err != nil {
		return fmt.Errorf("failed to unlock secrets: %w", err)
	}

	if initErr := logger.Init(logger.ParseLevel(cfg.LogLevel), cfg.LogPath); initErr != nil {
		return fmt.Errorf("failed to initialize logger: %w", initErr)
	}
	loggerInitialized = true

	logger.Info("cookiebridge starting")
	logger.Debug("Configuration loaded: path=%s, log_level=%s, bridge=%v, port=%d",
		opts.configPath, cfg.LogLevel, cfg.GenAI.UseCookieBridge, cfg.GenAI.BridgePort)

	lock := lockfile.New(config.GetLockPath())
	if err := lock.TryAcquire(cfg.GenAI.BridgePort); err != nil {
		return err
	}
	defer func() {
		if releaseErr := lock.Release(); releaseErr != nil {
			logger.Warn("Failed to release lock: %v", releaseErr)
		}
	}()

	a := app.New(cfg, opts.configPath, cookiebridge.WithLogger(logger.Slog("bridge")))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if opts.translate != "" {
		return runTranslate(ctx, a, opts.translate)
	}
	return a.Run(ctx)
}

// runTranslate waits for one cookie push (unless a header is already known),
// translates text and prints the result.
func runTranslate(ctx context.Context, a *app.App, text string) error {
	a.Start()
	defer func() {
		if closeErr := a.Close(context.Background()); closeErr != nil {
			logger.Warn("Failed to close cleanly: %v", closeErr)
		}
	}()

	if a.Credentials().CookieHeader() == "" && a.GenAIConfig().APIKey == "" && a.Bridge().Listening() {
		fmt.Fprintf(os.Stderr, "Waiting for cookies on http://%s/cookies ...\n", a.Bridge().Addr())
		pushed := make(chan struct{}, 1)
		sub := a.Bridge().Subscribe(func(string) {
			select {
			case pushed <- struct{}{}:
			default:
			}
		})
		defer sub.Unsubscribe()

		select {
		case <-pushed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	out, err := a.Translate(ctx, text)
	if err != nil {
		return err
	}
	fmt.Println(out)
	return nil
}

func parseArgs(args []string) (*options, error) {
	opts := &options{}
	fs := flag.NewFlagSet("cookiebridge", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	fs.StringVar(&opts.configPath, "config", config.GetConfigPath(), "path to the config file")
	fs.IntVar(&opts.port, "port", 0, "override the bridge port from the config")
	fs.StringVar(&opts.translate, "translate", "", "translate the given text once and exit")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: cookiebridge [flags]\n\n")
		fmt.Fprintf(fs.Output(), "Runs the loopback cookie bridge and hands pushed cookies to the AI client.\n\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}
	if opts.port < 0 || opts.port > 65535 {
		return nil, fmt.Errorf("%w: %d", config.ErrInvalidPort, opts.port)
	}
	return opts, nil
}

// applyEnvOverrides lets the environment override logging settings from the
// config file.
func applyEnvOverrides(cfg *config.Config) {
	if envLevel := strings.TrimSpace(os.Getenv("COOKIEBRIDGE_LOG_LEVEL")); envLevel != "" {
		cfg.LogLevel = envLevel
	}
	if envPath := strings.TrimSpace(os.Getenv("COOKIEBRIDGE_LOG_PATH")); envPath != "" {
		cfg.LogPath = envPath
	}
}

func ensureSecretsPassword(cfg *config.Config) (string, error) {
	if cfg == nil {
		return "", errors.New("config is nil")
	}

	if cfg.Secrets.PasswordSet {
		for attempt := 0; attempt < maxPasswordAttempts; attempt++ {
			pw, err := promptForPassword("Enter encryption password: ")
			if err != nil {
				return "", err
			}
			if err := cfg.ApplySecretsPassword(pw); err != nil {
				if errors.Is(err, secrets.ErrInvalidPassword) {
					fmt.Fprintln(os.Stderr, "Invalid password, try again.")
					continue
				}
				return "", err
			}
			return cfg.SecretsPassword(), nil
		}
		return "", errors.New("too many invalid password attempts")
	}

	if err := cfg.ApplySecretsPassword(""); err != nil {
		return "", err
	}
	return cfg.SecretsPassword(), nil
}

func promptForPassword(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	fmt.Fprint(os.Stderr, prompt)

	if term.IsTerminal(fd) {
		bytes, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", err
		}
		defer securemem.Wipe(bytes)
		return strings.TrimSpace(string(bytes)), nil
	}

	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
