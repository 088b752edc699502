// ABOUTME: Entry point for coven-chat, a terminal client for streaming assistant conversations
// ABOUTME: Subcommands: chat (default), traces, init, version

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"gopkg.in/yaml.v3"

	"github.com/2389/coven-chat/internal/auth"
	"github.com/2389/coven-chat/internal/client"
	"github.com/2389/coven-chat/internal/config"
	"github.com/2389/coven-chat/internal/conversation"
	"github.com/2389/coven-chat/internal/engine"
	"github.com/2389/coven-chat/internal/logging"
	"github.com/2389/coven-chat/internal/store"
)

// Version is set at build time.
var version = "dev"

func usage() {
	fmt.Println("Usage: coven-chat [command] [flags]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  chat       Start an interactive conversation (default)")
	fmt.Println("  traces     List runs saved in the trace archive")
	fmt.Println("  init       Write a starter config file")
	fmt.Println("  version    Print the version")
}

func main() {
	args := os.Args[1:]
	cmd := "chat"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		cmd, args = args[0], args[1:]
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer cancel()

	var err error
	switch cmd {
	case "chat":
		err = runChat(ctx, args)
	case "traces":
		err = runTraces(ctx, args, os.Stdout)
	case "init":
		err = runInit(args, os.Stdout)
	case "version":
		fmt.Println(version)
	case "help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// overrides are command-line values that take precedence over the config file.
type overrides struct {
	url          string
	transport    string
	conversation string
	verbose      bool
}

// loadConfig reads path (defaults when missing), applies o, and validates.
func loadConfig(path string, o overrides) (*config.Config, error) {
	cfg, err := config.LoadOrDefault(path)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if o.url != "" {
		cfg.Backend.URL = o.url
	}
	if o.transport != "" {
		cfg.Backend.Transport = o.transport
	}
	if o.conversation != "" {
		cfg.Conversation.ID = o.conversation
	}
	// Keep the terminal quiet unless asked.
	if !o.verbose && logging.ParseLevel(cfg.Logging.Level) < slog.LevelWarn {
		cfg.Logging.Level = "warn"
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

func discoverToken(cfg config.BackendConfig) (string, error) {
	token, err := auth.Discover(cfg.Token, cfg.TokenFile)
	if errors.Is(err, auth.ErrNoToken) {
		return "", nil
	}
	return token, err
}

func runChat(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("chat", flag.ExitOnError)
	configPath := fs.String("config", config.Path(), "config file (YAML, or TOML by extension)")
	url := fs.String("url", "", "backend URL (overrides config)")
	transport := fs.String("transport", "", "stream transport: sse or websocket (overrides config)")
	conversationID := fs.String("conversation", "", "resume a conversation by id")
	model := fs.String("model", "", "model for sent messages (overrides config)")
	verbose := fs.Bool("verbose", false, "show info and debug logs")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(*configPath, overrides{
		url:          *url,
		transport:    *transport,
		conversation: *conversationID,
		verbose:      *verbose,
	})
	if err != nil {
		return err
	}

	logger := logging.New(cfg.Logging, os.Stderr)
	slog.SetDefault(logger)

	token, err := discoverToken(cfg.Backend)
	if err != nil {
		return err
	}

	c, err := client.NewFromConfig(cfg.Backend, token, logger)
	if err != nil {
		return fmt.Errorf("creating client: %w", err)
	}

	// Typed nils must not reach the engine or the session.
	var (
		archive engine.TraceArchive
		runs    runArchive
	)
	if cfg.Trace.Enabled {
		s, err := store.NewSQLiteStore(cfg.Trace.ArchivePath)
		if err != nil {
			return fmt.Errorf("opening trace archive: %w", err)
		}
		defer s.Close()
		archive, runs = s, s
	}

	broadcaster := conversation.NewBroadcaster(logger)
	defer broadcaster.Close()
	updates, _ := broadcaster.Subscribe(ctx)

	e, err := engine.New(engine.Options{
		Backend:        c,
		ConversationID: cfg.Conversation.ID,
		TitleMaxLength: cfg.Conversation.TitleMaxLength,
		DefaultModel:   cfg.Backend.Model,
		Archive:        archive,
		Broadcaster:    broadcaster,
		Logger:         logger,
	})
	if err != nil {
		return err
	}
	defer e.Detach()

	printBanner(os.Stdout, cfg, token != "")

	sess := newSession(e, c, runs, *model, os.Stdout)
	if cfg.Conversation.ID != "" {
		if err := e.Load(ctx); err != nil {
			fmt.Println(errStyle.Sprintf("[error] loading %s: %v", cfg.Conversation.ID, err))
		} else {
			printMessages(os.Stdout, e.Messages())
		}
	}

	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt)
	defer signal.Stop(interrupts)

	if err := sess.run(ctx, os.Stdin, updates, interrupts); err != nil {
		return err
	}
	fmt.Println("\nGoodbye!")
	return nil
}

func printBanner(out io.Writer, cfg *config.Config, authed bool) {
	cyan := color.New(color.FgCyan, color.Bold)
	cyan.Fprint(out, "coven-chat")
	dim.Fprintf(out, " %s\n", version)
	fmt.Fprintf(out, "Backend: %s (%s)\n", cfg.Backend.URL, cfg.Backend.Transport)
	if authed {
		fmt.Fprintln(out, "Auth: bearer token configured")
	} else {
		fmt.Fprintf(out, "Auth: none (set %s or %s)\n", auth.TokenEnvVar, auth.DefaultTokenPath())
	}
	if cfg.Trace.Enabled {
		fmt.Fprintf(out, "Trace archive: %s\n", cfg.Trace.ArchivePath)
	}
	fmt.Fprintln(out, "Type a message and press Enter. /help for commands.")
	fmt.Fprintln(out)
}

func runTraces(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("traces", flag.ExitOnError)
	configPath := fs.String("config", config.Path(), "config file")
	dbPath := fs.String("db", "", "trace archive path (overrides config)")
	conversationID := fs.String("conversation", "", "only runs of this conversation")
	runID := fs.String("run", "", "show the events of one run")
	limit := fs.Int("limit", store.DefaultListLimit, "maximum runs to list")
	if err := fs.Parse(args); err != nil {
		return err
	}

	path := *dbPath
	if path == "" {
		cfg, err := config.LoadOrDefault(*configPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		path = cfg.Trace.ArchivePath
	}
	if path == "" {
		return errors.New("no trace archive configured (set trace.archive_path or pass -db)")
	}

	s, err := store.NewSQLiteStore(path)
	if err != nil {
		return fmt.Errorf("opening trace archive: %w", err)
	}
	defer s.Close()

	if *runID != "" {
		run, err := s.GetRun(ctx, *runID)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s  %s  %q\n", run.ID, run.ConversationID, run.UserMessage)
		for _, ev := range run.Events {
			fmt.Fprintln(out, indentJSON(ev))
		}
		return nil
	}

	runs, err := s.ListRuns(ctx, store.ListRunsParams{ConversationID: *conversationID, Limit: *limit})
	if err != nil {
		return err
	}
	printArchivedRuns(out, runs)
	return nil
}

// starterConfig is the file written by init. Durations are kept as text.
type starterConfig struct {
	Backend struct {
		URL               string `yaml:"url"`
		Transport         string `yaml:"transport"`
		Model             string `yaml:"model,omitempty"`
		RequestTimeout    string `yaml:"request_timeout"`
		StreamIdleTimeout string `yaml:"stream_idle_timeout"`
	} `yaml:"backend"`
	Conversation struct {
		TitleMaxLength int `yaml:"title_max_length"`
	} `yaml:"conversation"`
	Trace struct {
		Enabled     bool   `yaml:"enabled"`
		ArchivePath string `yaml:"archive_path"`
	} `yaml:"trace"`
	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`
}

// getDataPath returns the path to the coven data directory.
// Priority: XDG_DATA_HOME/coven > ~/.local/share/coven
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data"
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}
	return filepath.Join(dataDir, "coven")
}

func runInit(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	path := fs.String("config", config.Path(), "where to write the config")
	url := fs.String("url", config.DefaultBackendURL, "backend URL")
	transport := fs.String("transport", config.TransportSSE, "stream transport: sse or websocket")
	traces := fs.Bool("traces", true, "archive diagnostic traces")
	force := fs.Bool("force", false, "overwrite an existing file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if _, err := os.Stat(*path); err == nil && !*force {
		return fmt.Errorf("%s already exists (use -force to overwrite)", *path)
	}

	var sc starterConfig
	sc.Backend.URL = *url
	sc.Backend.Transport = *transport
	sc.Backend.RequestTimeout = config.DefaultRequestTimeout.String()
	sc.Backend.StreamIdleTimeout = config.DefaultStreamIdleTimeout.String()
	sc.Conversation.TitleMaxLength = config.DefaultTitleMaxLength
	sc.Trace.Enabled = *traces
	sc.Trace.ArchivePath = filepath.Join(getDataPath(), "chat-traces.db")
	sc.Logging.Level = "info"
	sc.Logging.Format = "text"

	data, err := yaml.Marshal(&sc)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	// Validate what we are about to write by reading it back.
	tmp, err := os.CreateTemp("", "coven-chat-*.yaml")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	tmp.Close()
	if _, err := config.Load(tmp.Name()); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(*path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(*path, data, 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	fmt.Fprintf(out, "Wrote %s\n", *path)
	return nil
}
