package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mikeboe/research-agent/pkg/app"
	"github.com/mikeboe/research-agent/pkg/config"
	"github.com/mikeboe/research-agent/pkg/llm"
	"github.com/mikeboe/research-agent/pkg/logging"
	"github.com/mikeboe/research-agent/pkg/research"
)

var rootCmd = &cobra.Command{
	Use:   "research-helper",
	Short: "A terminal research assistant",
	Long: `research-helper answers questions from the web. Each stage of the pipeline
is a subcommand (expand, analyze, search, fetch, answer); run chains them
into a full research run.`,
	SilenceUsage: true,
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "config file (default: ./research-helper.yaml or ~/.config/research-helper/config.yaml)")
	flags.String("provider", "", "LLM provider: anthropic, openai or google")
	flags.String("model", "", "model name, defaults to the provider's default")
	flags.String("search-backend", "", "search backend: google or arxiv")
	flags.String("log-level", "", "log level: debug, info, warn or error")
	flags.Bool("json", false, "print results as JSON")

	_ = viper.BindPFlag("llm_provider", flags.Lookup("provider"))
	_ = viper.BindPFlag("llm_model", flags.Lookup("model"))
	_ = viper.BindPFlag("search_backend", flags.Lookup("search-backend"))
	_ = viper.BindPFlag("log_level", flags.Lookup("log-level"))
}

func initConfig() {
	cfgFile, _ := rootCmd.PersistentFlags().GetString("config")
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("research-helper")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "research-helper"))
		}
	}

	viper.SetEnvPrefix("RESEARCH")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// loadConfig reads the environment and overlays flags, RESEARCH_* variables
// and the config file.
func loadConfig() (*config.Config, error) {
	cfg := config.Load()
	applyOverrides(cfg, viper.GetViper())
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyOverrides(cfg *config.Config, v *viper.Viper) {
	textKeys := map[string]*string{
		"llm_provider":            &cfg.LLMProvider,
		"llm_model":               &cfg.LLMModel,
		"anthropic_api_key":       &cfg.AnthropicAPIKey,
		"openai_api_key":          &cfg.OpenAIAPIKey,
		"google_api_key":          &cfg.GoogleApiKey,
		"search_backend":          &cfg.SearchBackend,
		"google_search_api_key":   &cfg.GoogleSearchAPIKey,
		"google_search_engine_id": &cfg.GoogleSearchEngineID,
		"search_language":         &cfg.SearchLanguage,
		"log_level":               &cfg.LogLevel,
	}
	for key, dst := range textKeys {
		if s := v.GetString(key); s != "" {
			*dst = s
		}
	}
	intKeys := map[string]*int{
		"search_num_results": &cfg.SearchNumResults,
		"fetch_top_n":        &cfg.FetchTopN,
		"llm_max_tokens":     &cfg.LLMMaxTokens,
	}
	for key, dst := range intKeys {
		if n := v.GetInt(key); n > 0 {
			*dst = n
		}
	}
	if d := v.GetDuration("llm_timeout"); d > 0 {
		cfg.LLMTimeout = d
	}
}

// session holds what every subcommand needs.
type session struct {
	cfg    *config.Config
	logger *slog.Logger
	gw     llm.Gateway
	engine *research.Engine
}

func openSession(ctx context.Context) (*session, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger := logging.New(cfg.LogLevel)
	slog.SetDefault(logger)

	gw, err := app.NewGateway(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	engine, err := app.NewEngine(cfg, gw, logger)
	if err != nil {
		_ = gw.Close()
		return nil, err
	}
	return &session{cfg: cfg, logger: logger, gw: gw, engine: engine}, nil
}

func (s *session) Close() error {
	return s.gw.Close()
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		slog.Error("Command execution failed", "error", err)
		os.Exit(1)
	}
}
