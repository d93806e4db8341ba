// Interactive chat: wires the orchestrator, plugin registry, dispatcher and
// session store together behind a terminal REPL.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"

	"seven/internal/config"
	"seven/internal/convo"
	"seven/internal/dispatch"
	"seven/internal/llm"
	"seven/internal/logging"
	"seven/internal/plugins"
	"seven/internal/store"
)

var (
	promptStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	sevenStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("13")).Bold(true)
	faintStyle  = lipgloss.NewStyle().Faint(true)
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

// buildRouter assembles the provider router from config.
func buildRouter(ctx context.Context, cfg *config.Config) *llm.Router {
	groq := llm.NewGroqClient(llm.GroqConfig{
		APIKey:      cfg.LLM.GroqAPIKey,
		BaseURL:     cfg.LLM.GroqBaseURL,
		Model:       cfg.LLM.GroqModel,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		Timeout:     cfg.GetLLMTimeout(),
	})
	ollama := llm.NewOllamaClient(llm.OllamaConfig{
		BaseURL:     cfg.LLM.OllamaURL,
		Model:       cfg.LLM.OllamaModel,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		Timeout:     cfg.GetLLMTimeout(),
	})

	var extras []llm.Client
	if cfg.LLM.GeminiKey != "" {
		gemini, err := llm.NewGeminiClient(ctx, llm.GeminiConfig{
			APIKey:      cfg.LLM.GeminiKey,
			Model:       cfg.LLM.GeminiModel,
			Temperature: cfg.LLM.Temperature,
			MaxTokens:   cfg.LLM.MaxTokens,
		})
		if err != nil {
			logger.Warn("gemini client unavailable", zap.Error(err))
		} else {
			extras = append(extras, gemini)
		}
	}

	return llm.NewRouter(cfg.LLM.Provider, groq, ollama, extras...)
}

func openStore(cfg *config.Config, ws string) (*store.Store, error) {
	path := cfg.Store.DatabasePath
	if !filepath.IsAbs(path) {
		path = filepath.Join(ws, path)
	}
	return store.Open(path)
}

// app is the assembled chat runtime. Everything is built once at startup and
// passed by reference; nothing hangs off package globals.
type app struct {
	cfg        *config.Config
	workspace  string
	router     *llm.Router
	orch       *convo.Orchestrator
	registry   *plugins.Registry
	watcher    *plugins.Watcher
	dispatcher *dispatch.Dispatcher
	store      *store.Store
	sessionID  string
}

func newApp(ctx context.Context, cfg *config.Config, ws string) (*app, error) {
	router := buildRouter(ctx, cfg)

	registry := plugins.NewRegistry()
	if err := plugins.RegisterBuiltins(registry, cfg.Plugins.Disabled); err != nil {
		return nil, err
	}
	pluginDir := filepath.Join(ws, cfg.Plugins.Dir)
	loader := plugins.NewLoader(pluginDir, registry)
	if _, err := loader.LoadAll(); err != nil {
		logger.Warn("external plugin load failed", zap.Error(err))
	}
	registry.MarkReady()

	orch := convo.NewOrchestrator(router, convo.Config{
		MinRequestInterval: cfg.GetMinRequestInterval(),
		MaxTurns:           cfg.Conversation.MaxTurns,
	})
	orch.SetCapabilityCatalog(registry.Catalog())

	var watcher *plugins.Watcher
	if cfg.Plugins.WatchDir {
		w, err := plugins.NewWatcher(pluginDir, loader, orch)
		if err != nil {
			logger.Warn("plugin watcher unavailable", zap.Error(err))
		} else if err := w.Start(ctx); err == nil {
			watcher = w
		}
	}

	st, err := openStore(cfg, ws)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:        cfg,
		workspace:  ws,
		router:     router,
		orch:       orch,
		registry:   registry,
		watcher:    watcher,
		dispatcher: dispatch.NewDispatcher(registry, dispatch.ExecHost{}),
		store:      st,
	}

	if err := a.resumeOrCreateSession(); err != nil {
		st.Close()
		return nil, err
	}
	a.loadFacts()
	return a, nil
}

// resumeOrCreateSession picks up the latest stored session, restoring its
// turns into the orchestrator, or creates a fresh one.
func (a *app) resumeOrCreateSession() error {
	sess, ok, err := a.store.LatestSession(a.cfg.Backend.UserID)
	if err != nil {
		return err
	}
	if ok {
		a.sessionID = sess.ID
		turns, err := a.store.History(sess.ID)
		if err != nil {
			return err
		}
		restored := make([]convo.Turn, 0, len(turns))
		for _, t := range turns {
			restored = append(restored, convo.Turn{Role: llm.Role(t.Role), Content: t.Content})
		}
		a.orch.RestoreHistory(restored)
		logging.Boot("resumed session %s with %d turns", sess.ID, len(turns))
		return nil
	}

	id, err := a.store.CreateSession(a.cfg.Backend.UserID)
	if err != nil {
		return err
	}
	a.sessionID = id
	logging.Boot("started session %s", id)
	return nil
}

// loadFacts injects stored long-term facts into the system directive.
func (a *app) loadFacts() {
	facts, err := a.store.Facts(a.cfg.Backend.UserID)
	if err != nil || len(facts) == 0 {
		return
	}
	a.orch.SetLongTermFacts("- " + strings.Join(facts, "\n- "))
}

// rememberFact extracts an explicit "remember ..." instruction into the
// long-term store.
func (a *app) rememberFact(input string) bool {
	lower := strings.ToLower(input)
	for _, prefix := range []string{"remember that ", "remember: ", "remember "} {
		if strings.HasPrefix(lower, prefix) {
			fact := strings.TrimSpace(input[len(prefix):])
			if fact == "" {
				return false
			}
			if err := a.store.AddFact(a.cfg.Backend.UserID, fact); err != nil {
				logger.Warn("store fact", zap.Error(err))
				return false
			}
			a.loadFacts()
			return true
		}
	}
	return false
}

func (a *app) close() {
	if a.watcher != nil {
		a.watcher.Stop()
	}
	a.store.Close()
}

// turn runs one full user turn: orchestrate, persist, dispatch.
func (a *app) turn(ctx context.Context, input string) (convo.Envelope, plugins.Result, error) {
	env, err := a.orch.Send(ctx, input, nil)
	if err != nil {
		return convo.Envelope{}, plugins.Result{}, err
	}

	a.store.AppendTurn(a.sessionID, string(llm.RoleUser), input)
	h := a.orch.History()
	a.store.AppendTurn(a.sessionID, string(llm.RoleAssistant), h[len(h)-1].Content)

	res := a.dispatcher.Dispatch(ctx, env, plugins.CallContext{
		SessionID: a.sessionID,
		Workspace: a.workspace,
	})
	return env, res, nil
}

func runChat() error {
	cfg, ws, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	a, err := newApp(ctx, cfg, ws)
	if err != nil {
		return err
	}
	defer a.close()

	renderer, _ := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)

	fmt.Println(sevenStyle.Render("Seven") + faintStyle.Render("  ("+a.router.Name()+")"))
	fmt.Println(faintStyle.Render("Type a message, /new for a fresh session, /quit to exit."))

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		fmt.Print(promptStyle.Render("you> "))
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if done := a.handleCommand(input); done {
			break
		}
		if strings.HasPrefix(input, "/") {
			continue
		}

		if a.rememberFact(input) {
			fmt.Println(faintStyle.Render("Noted. I'll remember that."))
			continue
		}

		reqCtx, reqCancel := context.WithTimeout(ctx, a.cfg.GetLLMTimeout())
		env, res, err := a.turn(reqCtx, input)
		reqCancel()
		if err != nil {
			fmt.Println(errStyle.Render("error: " + err.Error()))
			if ctx.Err() != nil {
				break
			}
			continue
		}

		printReply(renderer, env, res)
	}
	fmt.Println()
	return nil
}

// handleCommand processes slash commands; returns true to exit.
func (a *app) handleCommand(input string) bool {
	switch input {
	case "/quit", "/exit":
		return true
	case "/new":
		id, err := a.store.CreateSession(a.cfg.Backend.UserID)
		if err != nil {
			fmt.Println(errStyle.Render("error: " + err.Error()))
			return false
		}
		a.sessionID = id
		a.orch.Reset()
		fmt.Println(faintStyle.Render("Started a fresh session."))
	case "/plugins":
		fmt.Println(a.registry.Catalog())
	case "/history":
		for _, t := range a.orch.History()[1:] {
			fmt.Printf("%s: %s\n", t.Role, t.Content)
		}
	}
	return false
}

func printReply(renderer *glamour.TermRenderer, env convo.Envelope, res plugins.Result) {
	text := env.Message
	if renderer != nil {
		if rendered, err := renderer.Render(text); err == nil {
			text = strings.TrimRight(rendered, "\n")
		}
	}
	fmt.Println(sevenStyle.Render("seven>") + " " + text)

	switch {
	case !res.Success && res.Error != "":
		fmt.Println(errStyle.Render("  ✗ " + res.Error))
	case res.Message != "" && res.Message != env.Message:
		fmt.Println(faintStyle.Render("  ✓ " + res.Message))
	}
}
