package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"seven/internal/backend"
	"seven/internal/config"
	"seven/internal/logging"
	"seven/internal/plugins"
	"seven/internal/store"
)

var (
	// Global flags
	verbose    bool
	workspace  string
	configPath string

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "seven",
	Short: "Seven - voice-activated AI assistant dispatch core",
	Long: `Seven is a conversational assistant core: it turns model replies into
typed envelopes and routes them to built-in actions or plugins.

Run without arguments to start the interactive chat interface.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Initialize logger
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
		logging.CloseAll()
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runChat()
	},
}

// statusCmd shows system status
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show configuration, provider and plugin status",
	RunE:  showStatus,
}

// memoryCmd inspects or clears long-term memory
var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Show or clear long-term memory facts",
	Long: `Reads long-term facts from the configured backend, falling back to the
local store when the backend is unreachable. --clear removes facts from both.`,
	RunE: runMemory,
}

// askCmd sends a one-shot message through the backend
var askCmd = &cobra.Command{
	Use:   "ask <message>",
	Short: "Send one message through the configured backend",
	Long: `Routes a single message through the backend's chat endpoint and prints the
reply along with any actions the backend executed. Use --new to open a fresh
backend session first.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

// listenCmd runs the wake-word detector over typed transcript lines
var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Run the wake-word detector against typed transcript fragments",
	Long: `Feeds each line you type through the activation-phrase matcher the way a
streaming transcription source would, and reports matches. Useful for tuning
the phrase and threshold without a microphone.`,
	RunE: runListen,
}

var (
	clearMemory bool
	askNew      bool
)

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "Workspace directory (default: current)")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: <workspace>/.seven/config.yaml)")

	memoryCmd.Flags().BoolVar(&clearMemory, "clear", false, "Delete all stored facts")
	askCmd.Flags().BoolVar(&askNew, "new", false, "Open a fresh backend session first")

	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(memoryCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(listenCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// resolveWorkspace returns the workspace directory, defaulting to cwd.
func resolveWorkspace() string {
	if workspace != "" {
		return workspace
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return cwd
}

// loadConfig loads the config file and initializes category logging.
func loadConfig() (*config.Config, string, error) {
	ws := resolveWorkspace()
	path := configPath
	if path == "" {
		path = filepath.Join(ws, ".seven", "config.yaml")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", fmt.Errorf("invalid config: %w", err)
	}
	if err := logging.Initialize(ws, cfg.Logging.DebugMode || verbose, cfg.Logging.Level); err != nil {
		return nil, "", fmt.Errorf("init logging: %w", err)
	}
	return cfg, ws, nil
}

func showStatus(cmd *cobra.Command, args []string) error {
	cfg, ws, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	fmt.Printf("Seven %s\n", cfg.Version)
	fmt.Printf("  workspace:    %s\n", ws)
	fmt.Printf("  wake phrase:  %q (threshold %.2f)\n", cfg.Wake.Phrase, cfg.Wake.Threshold)
	fmt.Printf("  provider:     %s\n", cfg.LLM.Provider)

	router := buildRouter(ctx, cfg)
	fmt.Printf("  active model: %s\n", router.Name())

	bc := newBackendClient(cfg)
	if bc.Health(ctx) {
		fmt.Printf("  backend:      up (%s)\n", cfg.Backend.BaseURL)
	} else {
		fmt.Printf("  backend:      unreachable (%s)\n", cfg.Backend.BaseURL)
	}

	registry := plugins.NewRegistry()
	if err := plugins.RegisterBuiltins(registry, cfg.Plugins.Disabled); err != nil {
		return err
	}
	loader := plugins.NewLoader(filepath.Join(ws, cfg.Plugins.Dir), registry)
	external, _ := loader.LoadAll()
	registry.MarkReady()

	fmt.Printf("  plugins:      %d registered (%d external)\n", len(registry.Names()), external)
	fmt.Println(indent(registry.Catalog(), "    "))
	return nil
}

func newBackendClient(cfg *config.Config) *backend.Client {
	return backend.NewClient(backend.Config{
		BaseURL: cfg.Backend.BaseURL,
		UserID:  cfg.Backend.UserID,
		Timeout: cfg.GetBackendTimeout(),
	})
}

// memoryFacts reads long-term facts, preferring the backend and falling back
// to the local store when it is unreachable. The second return names the
// source that answered.
func memoryFacts(ctx context.Context, bc *backend.Client, st *store.Store, user string) ([]string, string, error) {
	if facts, err := bc.Memory(ctx); err == nil {
		return facts, "backend", nil
	}
	facts, err := st.Facts(user)
	return facts, "local", err
}

// clearAllFacts clears the backend's memory when reachable, then the local
// store. Returns the local count removed and whether the backend was cleared.
func clearAllFacts(ctx context.Context, bc *backend.Client, st *store.Store, user string) (int, bool, error) {
	remote := bc.ClearMemory(ctx) == nil
	n, err := st.ClearFacts(user)
	return int(n), remote, err
}

func runMemory(cmd *cobra.Command, args []string) error {
	cfg, ws, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openStore(cfg, ws)
	if err != nil {
		return err
	}
	defer st.Close()

	bc := newBackendClient(cfg)
	ctx, cancel := context.WithTimeout(context.Background(), cfg.GetBackendTimeout())
	defer cancel()

	if clearMemory {
		n, remote, err := clearAllFacts(ctx, bc, st, cfg.Backend.UserID)
		if err != nil {
			return err
		}
		if remote {
			fmt.Printf("Cleared backend memory and %d local facts.\n", n)
		} else {
			fmt.Printf("Cleared %d local facts (backend unreachable).\n", n)
		}
		return nil
	}

	facts, source, err := memoryFacts(ctx, bc, st, cfg.Backend.UserID)
	if err != nil {
		return err
	}
	if len(facts) == 0 {
		fmt.Println("No stored facts.")
		return nil
	}
	fmt.Printf("%d facts (%s):\n", len(facts), source)
	for _, f := range facts {
		fmt.Println("- " + f)
	}
	return nil
}

// askBackend runs one remote chat turn and renders the reply with any
// backend-executed actions.
func askBackend(ctx context.Context, bc *backend.Client, message string, fresh bool) (string, error) {
	sessionID := ""
	if fresh {
		id, err := bc.NewChat(ctx)
		if err != nil {
			return "", err
		}
		sessionID = id
	}

	resp, err := bc.Chat(ctx, sessionID, message, nil)
	if err != nil {
		return "", err
	}
	out := resp.Message
	for _, a := range resp.Actions {
		out += "\n  ✓ " + a.Type
	}
	return out, nil
}

func runAsk(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	bc := newBackendClient(cfg)
	ctx, cancel := context.WithTimeout(context.Background(), cfg.GetBackendTimeout())
	defer cancel()

	out, err := askBackend(ctx, bc, strings.Join(args, " "), askNew)
	if err != nil {
		return err
	}
	fmt.Println(out)
	return nil
}

func indent(s, prefix string) string {
	out := ""
	for _, line := range splitLines(s) {
		out += prefix + line + "\n"
	}
	return out[:len(out)-1]
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			lines = append(lines, s[start:i])
			start = i + 1
		}
	}
	return append(lines, s[start:])
}
