package cli

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/daneel/olivaw/internal/config"
	"github.com/daneel/olivaw/internal/logger"
	"github.com/daneel/olivaw/internal/observability"
	"github.com/daneel/olivaw/internal/tracing"
	"github.com/daneel/olivaw/pkg/agent"
	"github.com/daneel/olivaw/pkg/chat"
	"github.com/daneel/olivaw/pkg/commandqueue"
	"github.com/daneel/olivaw/pkg/coretools"
	"github.com/daneel/olivaw/pkg/session"
	"github.com/daneel/olivaw/pkg/toolbridge"
)

var (
	askModel     string
	askSystem    string
	askWorkspace string
	askSession   string
	askNoTools   bool
)

var askCmd = &cobra.Command{
	Use:   "ask [prompt]",
	Short: "Run a single agent turn from the command line",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAsk,
}

func init() {
	askCmd.Flags().StringVar(&askModel, "model", "", "pin a specific model id")
	askCmd.Flags().StringVar(&askSystem, "system", "", "system prompt override")
	askCmd.Flags().StringVar(&askWorkspace, "workspace", ".", "workspace root for filesystem tools")
	askCmd.Flags().StringVar(&askSession, "session", "", "session key for persistent history")
	askCmd.Flags().BoolVar(&askNoTools, "no-tools", false, "disable tool use")
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	lg, err := logger.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer lg.Close()

	if err := tracing.Init("olivaw"); err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer tracing.Shutdown(cmd.Context())

	if cfg.Metrics.Enabled {
		go func() {
			if err := http.ListenAndServe(cfg.Metrics.Listen, observability.Handler()); err != nil {
				log.Warn().Err(err).Msg("Metrics endpoint stopped")
			}
		}()
	}

	engine, queue, err := buildEngine(cfg)
	if err != nil {
		return err
	}
	defer queue.Close()

	prompt := strings.Join(args, " ")
	sessionID := askSession
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	var store *session.Store
	history := []chat.Message{}
	if askSession != "" {
		store, err = session.New(filepath.Join(cfg.DataDir, "sessions"))
		if err != nil {
			return err
		}
		past, err := store.Load(cmd.Context(), askSession)
		if err != nil {
			return err
		}
		for _, m := range past {
			history = append(history, m.Message)
		}
	}

	input := agent.RunInput{
		SessionID:   sessionID,
		System:      askSystem,
		Messages:    append(history, chat.Message{Role: chat.RoleUser, Content: prompt}),
		ModelPin:    askModel,
		MaxTokens:   cfg.Engine.MaxTokens,
		Temperature: cfg.Engine.Temperature,
		Callbacks: agent.Callbacks{
			OnToolStart: func(action toolbridge.Action) {
				fmt.Fprintf(os.Stderr, "* %s\n", action.Name)
			},
			OnToolUserOutput: func(toolID, output string) {
				fmt.Fprintln(os.Stderr, output)
			},
		},
	}
	if !askNoTools {
		input.Catalog = coretools.Catalog(coretools.Options{WorkspaceRoot: askWorkspace})
		input.ToolPolicy = &toolbridge.Policy{Allow: cfg.Tools.Allow, Deny: cfg.Tools.Deny}
		input.ToolTimeout = time.Duration(cfg.Tools.TimeoutSeconds) * time.Second
	}

	result, err := engine.Run(cmd.Context(), input)
	if result.Text != "" {
		fmt.Println(result.Text)
	}
	if err != nil {
		return err
	}

	if store != nil {
		userMsg := chat.Plain(chat.Message{Role: chat.RoleUser, Content: prompt})
		if err := store.Append(cmd.Context(), askSession, userMsg); err != nil {
			log.Warn().Err(err).Msg("Failed to persist user message")
		}
		assistantMsg := chat.Plain(chat.Message{Role: chat.RoleAssistant, Content: result.Text})
		if err := store.Append(cmd.Context(), askSession, assistantMsg); err != nil {
			log.Warn().Err(err).Msg("Failed to persist assistant message")
		}
	}
	return nil
}

// buildEngine assembles the engine from configuration: the provider
// registry, the credential router, the optional gateway, and the
// session queue.
func buildEngine(cfg *config.Config) (*agent.Engine, *commandqueue.Queue, error) {
	registry := agent.StaticRegistry{}
	for id, provider := range cfg.Providers {
		factory, err := transportFor(id)
		if err != nil {
			return nil, nil, err
		}
		models := make([]agent.ModelInfo, 0, len(provider.Models))
		for _, m := range provider.Models {
			models = append(models, agent.ModelInfo{ID: m.ID, ContextWindow: m.ContextWindow})
		}
		registry[id] = agent.ProviderInfo{
			ID:           id,
			DefaultModel: provider.DefaultModel,
			Models:       models,
			NewClient:    factory,
		}
	}

	profiles := make([]agent.Profile, 0, len(cfg.Auth))
	for _, p := range cfg.Auth {
		profiles = append(profiles, agent.Profile{
			Credential: agent.Credential{
				ProfileID:    p.ID,
				ProviderID:   p.Provider,
				APIKey:       p.APIKey,
				BaseURL:      p.BaseURL,
				DefaultModel: p.Model,
			},
			Priority: p.Priority,
		})
	}
	router := agent.NewProfileRouter(profiles)

	var proxyCfg *agent.ProxyConfig
	if cfg.Proxy.Enabled {
		proxyCfg = &agent.ProxyConfig{
			ProviderID: cfg.Proxy.Provider,
			Model:      cfg.Proxy.Model,
			BaseURL:    cfg.Proxy.BaseURL,
			Headers:    cfg.Proxy.Headers,
		}
	}

	resolver := agent.NewResolver(registry, router, agent.NewStaticProxyResolver(proxyCfg))
	queue := commandqueue.New()
	engine := agent.NewEngine(resolver, queue, agent.EngineConfig{
		MaxSteps:        cfg.Engine.MaxSteps,
		MaxHistoryTurns: cfg.Engine.MaxHistoryTurns,
		RunTimeout:      time.Duration(cfg.Engine.TimeoutSeconds) * time.Second,
	})
	return engine, queue, nil
}

func transportFor(providerID string) (agent.TransportFactory, error) {
	switch providerID {
	case "anthropic":
		return agent.NewAnthropicClient, nil
	case "openai":
		return agent.NewOpenAIClient, nil
	default:
		// OpenAI-compatible backends work through the OpenAI transport
		// with a base URL override.
		return agent.NewOpenAIClient, nil
	}
}
