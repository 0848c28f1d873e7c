// ABOUTME: Entry point for the chatizia conversation gateway
// ABOUTME: Serves the widget and agent HTTP API over the hand-off coordinator

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/awaistahseen009/chatizia/internal/bus"
	"github.com/awaistahseen009/chatizia/internal/config"
	"github.com/awaistahseen009/chatizia/internal/conversation"
	"github.com/awaistahseen009/chatizia/internal/escalation"
	"github.com/awaistahseen009/chatizia/internal/gateway"
	"github.com/awaistahseen009/chatizia/internal/llm"
	"github.com/awaistahseen009/chatizia/internal/ownership"
	"github.com/awaistahseen009/chatizia/internal/retrieval"
	"github.com/awaistahseen009/chatizia/internal/store"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
       _           _   _     _
   ___| |__   __ _| |_(_)___(_) __ _
  / __| '_ \ / _' | __| |_  / |/ _' |
 | (__| | | | (_| | |_| |/ /| | (_| |
  \___|_| |_|\__,_|\__|_/___|_|\__,_|
`

// getConfigPath returns the path to the gateway config file.
// Priority: CHATIZIA_CONFIG env var > XDG_CONFIG_HOME/chatizia/gateway.yaml > ~/.config/chatizia/gateway.yaml
func getConfigPath() string {
	if envPath := os.Getenv("CHATIZIA_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "gateway.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "chatizia", "gateway.yaml")
}

// getDataPath returns the path to the chatizia data directory.
// Priority: XDG_DATA_HOME/chatizia > ~/.local/share/chatizia
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "chatizia")
}

func main() {
	// Local .env files hold the LLM API key in development; missing files
	// are fine.
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		fmt.Println("Usage: chatizia-gateway <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve                               Start the gateway server")
		fmt.Println("  init                                Create a starter config file")
		fmt.Println("  bootstrap --bot NAME --agent NAME   Create a chatbot and a first agent")
		fmt.Println("  kb-import <chatbot-id> <file>...    Embed documents into a chatbot's knowledge base")
		fmt.Println("  health                              Check gateway health")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "bootstrap":
		err = runBootstrap(ctx)
	case "kb-import":
		err = runKBImport(ctx)
	case "health":
		err = runHealth(ctx)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:   %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:     %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Database: %s\n", cfg.Database.Path)
	fmt.Println()

	logger.Info("starting chatizia-gateway",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
	)

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	broadcaster := bus.NewBroadcaster(logger)
	defer broadcaster.Close()

	llmClient := llm.NewClient(cfg.LLM.APIKey, cfg.LLM.BaseURL, cfg.LLM.Timeout)
	responder := llm.NewResponder(llmClient, cfg.LLM.ResponderModel, logger)
	classifier := llm.NewSentimentClassifier(llmClient, cfg.LLM.ClassifierModel, logger)

	index, err := retrieval.NewIndex(llmClient, cfg.LLM.EmbeddingsModel, cfg.Retrieval.PersistPath, logger)
	if err != nil {
		return fmt.Errorf("opening retrieval index: %w", err)
	}

	policy := escalation.NewPolicy(classifier, st, logger,
		escalation.WithWindowSize(cfg.Escalation.WindowSize),
		escalation.WithNegativeThreshold(cfg.Escalation.NegativeThreshold),
	)

	machine := ownership.New(st, broadcaster, policy, logger)
	svc := conversation.New(st, responder, index, policy, broadcaster, logger)

	srv := gateway.New(svc, machine, st, broadcaster, cfg.Events.ReconcileInterval, logger)
	return srv.Start(ctx, cfg.Server.HTTPAddr)
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = &colorHandler{
			level: level,
		}
	}

	return slog.New(handler)
}

// colorHandler provides colorized log output with thread-safe writes.
type colorHandler struct {
	mu     sync.Mutex
	level  slog.Level
	attrs  []slog.Attr
	groups []string
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var buf strings.Builder

	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	switch r.Level {
	case slog.LevelDebug:
		buf.WriteString(color.MagentaString("DBG "))
	case slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	case slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	default:
		buf.WriteString("??? ")
	}

	buf.WriteString(r.Message)

	// Handler-level attrs first (from WithAttrs), then record attrs.
	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}
	r.Attrs(func(a slog.Attr) bool {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
		return true
	})

	buf.WriteString("\n")
	fmt.Print(buf.String())
	return nil
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	newAttrs = append(newAttrs, attrs...)
	return &colorHandler{
		level:  h.level,
		attrs:  newAttrs,
		groups: h.groups,
	}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	newGroups := make([]string, len(h.groups), len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups = append(newGroups, name)
	return &colorHandler{
		level:  h.level,
		attrs:  h.attrs,
		groups: newGroups,
	}
}

// runInit writes a starter config file at the default location.
func runInit() error {
	configPath := getConfigPath()
	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("config already exists at %s", configPath)
	}

	dataPath := getDataPath()
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.MkdirAll(dataPath, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	configContent := fmt.Sprintf(`# chatizia-gateway configuration
# Generated by chatizia-gateway init

server:
  http_addr: "localhost:8080"

database:
  path: "%s"

llm:
  # base_url: "http://localhost:11434/v1"
  api_key: "${OPENAI_API_KEY}"
  responder_model: "gpt-4o-mini"
  # classifier_model defaults to responder_model
  timeout: "60s"

retrieval:
  persist_path: "%s"

escalation:
  window_size: 5
  negative_threshold: 3

events:
  reconcile_interval: "15s"

logging:
  level: "info"
  format: "text"
`,
		filepath.Join(dataPath, "gateway.db"),
		filepath.Join(dataPath, "kb"),
	)

	if err := os.WriteFile(configPath, []byte(configContent), 0600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Print("✓ ")
	fmt.Printf("Config written to %s\n", configPath)
	fmt.Println("Edit it, then run: chatizia-gateway serve")
	return nil
}

// runBootstrap seeds a chatbot and its first agent so the API has something
// to talk to: chatizia-gateway bootstrap --bot "Support Bot" --agent "Alice"
func runBootstrap(ctx context.Context) error {
	var botName, agentName string
	var hasKB bool
	args := os.Args[2:]
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--bot":
			if i+1 >= len(args) {
				return fmt.Errorf("--bot requires a value")
			}
			botName = args[i+1]
			i++
		case strings.HasPrefix(arg, "--bot="):
			botName = strings.TrimPrefix(arg, "--bot=")
		case arg == "--agent":
			if i+1 >= len(args) {
				return fmt.Errorf("--agent requires a value")
			}
			agentName = args[i+1]
			i++
		case strings.HasPrefix(arg, "--agent="):
			agentName = strings.TrimPrefix(arg, "--agent=")
		case arg == "--kb":
			hasKB = true
		default:
			return fmt.Errorf("unexpected argument: %s", arg)
		}
	}

	botName = strings.TrimSpace(botName)
	agentName = strings.TrimSpace(agentName)
	if botName == "" {
		return fmt.Errorf("--bot flag is required")
	}
	if agentName == "" {
		return fmt.Errorf("--agent flag is required")
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	bot := &store.Chatbot{
		ID:               uuid.NewString(),
		Name:             botName,
		IsActive:         true,
		HasKnowledgeBase: hasKB,
		CreatedAt:        time.Now().UTC(),
	}
	if err := st.CreateChatbot(ctx, bot); err != nil {
		return fmt.Errorf("creating chatbot: %w", err)
	}

	agent := &store.Agent{
		ID:        uuid.NewString(),
		Name:      agentName,
		CreatedAt: time.Now().UTC(),
	}
	if err := st.CreateAgent(ctx, agent); err != nil {
		return fmt.Errorf("creating agent: %w", err)
	}
	if err := st.AssignAgentToChatbot(ctx, agent.ID, bot.ID); err != nil {
		return fmt.Errorf("assigning agent: %w", err)
	}

	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan)
	green.Print("✓ ")
	fmt.Print("Chatbot: ")
	cyan.Println(bot.ID)
	green.Print("✓ ")
	fmt.Print("Agent:   ")
	cyan.Println(agent.ID)
	return nil
}

// runKBImport embeds plain-text files into a chatbot's knowledge base:
// chatizia-gateway kb-import <chatbot-id> <file>...
func runKBImport(ctx context.Context) error {
	args := os.Args[2:]
	if len(args) < 2 {
		return fmt.Errorf("usage: chatizia-gateway kb-import <chatbot-id> <file>...")
	}
	chatbotID := args[0]
	files := args[1:]

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Retrieval.PersistPath == "" {
		return fmt.Errorf("retrieval.persist_path must be set for kb-import")
	}

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	if _, err := st.GetChatbot(ctx, chatbotID); err != nil {
		return fmt.Errorf("looking up chatbot %s: %w", chatbotID, err)
	}

	llmClient := llm.NewClient(cfg.LLM.APIKey, cfg.LLM.BaseURL, cfg.LLM.Timeout)
	index, err := retrieval.NewIndex(llmClient, cfg.LLM.EmbeddingsModel, cfg.Retrieval.PersistPath, nil)
	if err != nil {
		return fmt.Errorf("opening retrieval index: %w", err)
	}

	green := color.New(color.FgGreen)
	for _, path := range files {
		content, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		docID := filepath.Base(path)
		if err := index.Add(ctx, chatbotID, docID, string(content)); err != nil {
			return fmt.Errorf("embedding %s: %w", path, err)
		}
		green.Print("✓ ")
		fmt.Println(docID)
	}
	return nil
}

func runHealth(ctx context.Context) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	addr := cfg.Server.HTTPAddr
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	url := fmt.Sprintf("http://%s/healthz", addr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Println("healthy")
	return nil
}
