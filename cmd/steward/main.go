// Steward is a conversational assistant that runs as an external app
// on a Nextcloud server. It registers itself as a task processing
// provider, polls the platform's task queue for interaction tasks, and
// answers them with the platform's own language model backend plus a
// set of tools over the user's calendars, contacts, mail, chat rooms,
// and files. Conversation state travels inside a signed token on each
// task, so the daemon itself holds no per-conversation state.
//
// Configuration is loaded from a single YAML file discovered
// automatically (see [config.DefaultSearchPaths]); managed installs
// override the connection parameters through the environment.
//
// Usage:
//
//	steward serve                   Start the daemon
//	steward init [dir]              Initialize a working directory with defaults
//	steward ask <user> <question>   Ask a single question as a user (for testing)
//	steward inspect-token <token>   Decode a conversation token (for debugging)
//	steward version                 Print version and build information
//	steward -o json version         Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/stewardhq/steward/internal/agent"
	"github.com/stewardhq/steward/internal/audit"
	"github.com/stewardhq/steward/internal/buildinfo"
	"github.com/stewardhq/steward/internal/calendar"
	"github.com/stewardhq/steward/internal/checkpoint"
	"github.com/stewardhq/steward/internal/config"
	"github.com/stewardhq/steward/internal/contacts"
	"github.com/stewardhq/steward/internal/docgen"
	"github.com/stewardhq/steward/internal/files"
	"github.com/stewardhq/steward/internal/intake"
	"github.com/stewardhq/steward/internal/llm"
	"github.com/stewardhq/steward/internal/mail"
	"github.com/stewardhq/steward/internal/platform"
	"github.com/stewardhq/steward/internal/server"
	"github.com/stewardhq/steward/internal/signer"
	"github.com/stewardhq/steward/internal/talk"
	"github.com/stewardhq/steward/internal/tools"
	"github.com/stewardhq/steward/internal/weather"
	"github.com/stewardhq/steward/internal/websearch"
)

// main is intentionally minimal. It constructs the OS-level environment
// (context, stdio, argv) and delegates immediately to [run]. This keeps
// os.Exit, os.Stdout, and os.Args out of the application logic so that
// the full startup-to-shutdown lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point for the steward command. All OS-level
// dependencies are injected as parameters:
//
//   - ctx controls the lifetime of the process. Cancelling it triggers
//     graceful shutdown of the servers and background goroutines.
//   - stdout and stderr receive all program output. Structured logs go
//     to stdout; fatal error messages go to stderr.
//   - args is os.Args[1:] — the command-line arguments after the program
//     name. We parse these manually rather than using the flag package
//     to avoid global state that interferes with parallel tests.
//
// run returns nil on clean shutdown and a non-nil error for any failure.
// The caller (main) is responsible for printing the error and exiting.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	// Parse arguments by hand. The flag package relies on package-level
	// globals (flag.CommandLine), which makes it impossible to call run()
	// concurrently from tests. Our argument surface is small enough that
	// manual parsing is clearer than bringing in a CLI framework.
	var configPath string
	var outputFmt string // "text" (default) or "json"
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++ // skip the value
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				// Collect remaining args as subcommand arguments.
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	// Default to human-readable text output.
	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, stderr, configPath)
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "ask":
		if len(cmdArgs) < 2 {
			return fmt.Errorf("usage: steward ask <user> <question>")
		}
		return runAsk(ctx, stdout, configPath, cmdArgs[0], cmdArgs[1:])
	case "inspect-token":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: steward inspect-token <token>")
		}
		return runInspectToken(stdout, configPath, cmdArgs[0])
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	// Print fields in a stable order for human readability.
	for _, k := range []string{"version", "git_commit", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// printUsage writes the top-level help text to w. It is called when
// steward is invoked with no arguments, or with -h / --help.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Steward - Conversational assistant for Nextcloud")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: steward [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve                  Start the daemon")
	fmt.Fprintln(w, "  init [dir]             Initialize working directory with defaults (default: .)")
	fmt.Fprintln(w, "  ask <user> <question>  Ask a single question as a user (for testing)")
	fmt.Fprintln(w, "  inspect-token <token>  Decode a conversation token with the local key")
	fmt.Fprintln(w, "  version                Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./config.yaml, ~/.config/steward/config.yaml, /etc/steward/config.yaml")
	return nil
}

// runInspectToken decodes a conversation token using the signing key
// from the configured data directory and prints the last checkpoint.
// Useful for debugging stuck conversations without touching the server.
func runInspectToken(stdout io.Writer, configPath string, token string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	key, err := signer.LoadOrCreateKey(cfg.KeyFilePath())
	if err != nil {
		return fmt.Errorf("load signing key: %w", err)
	}
	sig, err := signer.New(key)
	if err != nil {
		return err
	}

	store, err := checkpoint.NewCodec(sig).Import(token)
	if err != nil {
		return fmt.Errorf("decode token: %w", err)
	}

	cp, coords, ok := store.Last()
	if !ok {
		fmt.Fprintln(stdout, "token decodes to an empty conversation")
		return nil
	}

	out := map[string]any{
		"thread_id":     coords.ThreadID,
		"checkpoint_id": coords.CheckpointID,
		"checkpoint":    cp,
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// runAsk handles the "steward ask <user> <question>" subcommand. It
// boots a minimal engine (no audit trail, no intake loop, no lifecycle
// server) and processes a single question as the given user, printing
// the response to stdout. Useful for quick smoke tests against a live
// platform without starting the daemon.
func runAsk(ctx context.Context, stdout io.Writer, configPath, userID string, words []string) error {
	logger := newLogger(stdout, slog.LevelWarn, "text")
	question := strings.Join(words, " ")

	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	key, err := signer.LoadOrCreateKey(cfg.KeyFilePath())
	if err != nil {
		return fmt.Errorf("load signing key: %w", err)
	}
	sig, err := signer.New(key)
	if err != nil {
		return err
	}

	pc := platform.NewClient(cfg.Platform, logger)
	registry := tools.NewRegistry(pc, toolProviders(cfg, logger),
		time.Duration(cfg.Registry.CacheTTLSeconds)*time.Second, logger)

	engine := agent.NewEngine(checkpoint.NewCodec(sig), registry, func(userClient *platform.Client) llm.Client {
		return llm.NewChatTask(userClient, logger)
	}, nil, logger)

	task := &platform.QueuedTask{
		Type:   platform.ProviderTaskType,
		UserID: userID,
		Input:  platform.TaskInput{Input: question},
	}
	resp, err := engine.HandleTask(ctx, pc.WithUser(userID), task)
	if err != nil {
		return fmt.Errorf("ask: %w", err)
	}

	fmt.Fprintln(stdout, resp.Output)
	if resp.Actions != "" {
		fmt.Fprintf(stdout, "\n(held dangerous actions: %s)\n", resp.Actions)
	}
	return nil
}

// toolProviders builds the full provider list. The registry probes each
// one per user; a provider that is not available simply contributes no
// tools.
func toolProviders(cfg *config.Config, logger *slog.Logger) []tools.Provider {
	return []tools.Provider{
		calendar.NewProvider(logger),
		contacts.NewProvider(logger),
		mail.NewProvider(logger),
		talk.NewProvider(logger),
		files.NewProvider(logger),
		docgen.NewProvider(logger),
		websearch.NewProvider(logger),
		weather.NewProvider(cfg.Weather, logger),
	}
}

// runServe handles the "steward serve" subcommand. It is the primary
// operating mode: loads config, opens the audit database, builds the
// tool registry and agent engine, starts the task intake loop and the
// lifecycle HTTP server, and blocks until a shutdown signal arrives.
//
// The shutdown sequence is:
//  1. SIGINT or SIGTERM cancels the context
//  2. The intake loop stops accepting tasks (in-flight ones finish
//     reporting on a detached context)
//  3. The lifecycle server drains in-flight requests
//  4. The audit database is closed via defer
func runServe(ctx context.Context, stdout io.Writer, stderr io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelInfo, "text")
	logger.Info("starting Steward", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "built", buildinfo.BuildTime)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config %s: %w", cfgPath, err)
	}

	// Reconfigure logger now that we know the desired level and format.
	// The initial Info-level text logger is used only for the startup
	// banner; everything after this point uses the configured settings.
	{
		level := slog.LevelInfo
		if cfg.LogLevel != "" {
			level, err = config.ParseLogLevel(cfg.LogLevel)
			if err != nil {
				return err
			}
		}
		logger = newLogger(stdout, level, cfg.LogFormat)
	}

	logger.Info("config loaded",
		"path", cfgPath,
		"port", cfg.Listen.Port,
		"platform", cfg.Platform.URL,
		"app_id", cfg.Platform.AppID,
	)

	// --- Data directory ---
	// Persistent state (the token signing key and the audit database)
	// lives under this directory.
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data directory %s: %w", cfg.DataDir, err)
	}

	// --- Token codec ---
	// Conversation state is carried by the client inside a signed token.
	// A lost key invalidates every outstanding conversation, so the key
	// is persisted in the data directory and reused across restarts.
	key, err := signer.LoadOrCreateKey(cfg.KeyFilePath())
	if err != nil {
		return fmt.Errorf("load signing key: %w", err)
	}
	sig, err := signer.New(key)
	if err != nil {
		return err
	}
	codec := checkpoint.NewCodec(sig)

	// --- Platform client ---
	// One shared client authenticated with the app secret. Per-task work
	// clones it with WithUser so every request is attributed to the user
	// who asked.
	pc := platform.NewClient(cfg.Platform, logger)

	// --- Audit trail ---
	// Every dangerous-tool proposal, confirmation, and denial is recorded
	// here. Failures to write are logged but never block an interaction.
	auditStore, err := audit.NewStore(cfg.AuditDBPath(), logger)
	if err != nil {
		return fmt.Errorf("open audit database: %w", err)
	}
	defer auditStore.Close()

	// --- Tool registry ---
	// Each provider contributes a category of tools; availability is
	// probed per user and cached. The admin client is used for the
	// category enable/disable settings.
	ttl := time.Duration(cfg.Registry.CacheTTLSeconds) * time.Second
	registry := tools.NewRegistry(pc, toolProviders(cfg, logger), ttl, logger)

	// --- Agent engine ---
	// The model itself runs on the platform: each interaction schedules
	// a chat-with-tools task through the user's own client, so platform
	// quotas and model selection apply per user.
	engine := agent.NewEngine(codec, registry, func(userClient *platform.Client) llm.Client {
		return llm.NewChatTask(userClient, logger)
	}, auditStore, logger)

	// --- Task intake ---
	handler := func(ctx context.Context, task *platform.QueuedTask) (map[string]any, error) {
		resp, err := engine.HandleTask(ctx, pc.WithUser(task.UserID), task)
		if err != nil {
			// Mirror failures into the platform's own log, best effort.
			pc.Log(ctx, platform.LogError, "interaction failed: "+err.Error())
			return nil, err
		}
		return resp.Map(), nil
	}
	loop := intake.NewLoop(pc, handler, platform.ProviderID, platform.ProviderTaskType, logger)

	// --- Push listener (optional) ---
	// Without push, the loop settles into a slow poll when idle; with
	// push, incoming frames trigger an immediate poll.
	if cfg.Push.Enabled {
		listener := platform.NewPushListener(pc, cfg.Push.Endpoint, loop.Trigger, logger)
		go listener.Run(ctx)
		logger.Info("push listener enabled")
	}

	// --- Lifecycle server ---
	srv := server.New(cfg.Listen, cfg.Platform.Secret, pc, loop, registry, logger)

	// Wire up signal handling for graceful shutdown.
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 2)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("lifecycle server: %w", err)
		}
	}()
	go func() {
		if err := loop.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("intake loop: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("lifecycle server shutdown incomplete", "error", err)
	}

	logger.Info("shutdown complete")
	return nil
}

// newLogger creates a structured logger that writes to w at the given
// level and format. Format must be "text" or "json"; any other value
// defaults to text. All log output in Steward goes through slog; this
// helper standardizes the handler configuration across subcommands.
func newLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// loadConfig locates and parses the YAML configuration file. If explicit
// is non-empty, that exact path is used (and must exist). Otherwise,
// [config.FindConfig] searches the default locations. Returns the parsed
// config, the path that was loaded, and any error.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	return cfg, cfgPath, nil
}
