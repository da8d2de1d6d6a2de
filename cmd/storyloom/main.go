package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/storyloom/storyloom/internal/api"
	"github.com/storyloom/storyloom/internal/catalog"
	"github.com/storyloom/storyloom/internal/flow"
	"github.com/storyloom/storyloom/internal/genai"
	"github.com/storyloom/storyloom/internal/reaper"
	"github.com/storyloom/storyloom/internal/store"
	"github.com/storyloom/storyloom/internal/util"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for StoryLoom state data
	DefaultStateDir = "/var/lib/storyloom"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "storyloom.db"
	// DefaultShutdownTimeout bounds graceful HTTP shutdown
	DefaultShutdownTimeout = 15 * time.Second
)

func main() {
	initializeLogger()

	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(config)

	st, err := openStore(flags)
	if err != nil {
		slog.Error("Failed to open store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	cat, err := loadCatalog(st)
	if err != nil {
		slog.Error("Failed to load question catalog", "error", err)
		os.Exit(1)
	}

	var ai genai.ClientInterface
	if *flags.openaiKey != "" {
		client, err := genai.NewClient(genai.WithAPIKey(*flags.openaiKey))
		if err != nil {
			slog.Error("Failed to initialize GenAI client", "error", err)
			os.Exit(1)
		}
		ai = client
	} else {
		slog.Warn("OPENAI_API_KEY not set; dynamic follow-ups and proofreading disabled")
	}

	engineCfg := flow.Config{
		TokenBudget:       util.ParseIntEnv("STORYLOOM_TOKEN_BUDGET", flow.DefaultTokenBudget),
		MinEpisodeTokens:  util.ParseIntEnv("STORYLOOM_MIN_EPISODE_TOKENS", flow.DefaultMinEpisodeTokens),
		CompletionPercent: int(util.ParseIntEnv("STORYLOOM_COMPLETION_PERCENT", flow.DefaultCompletionPercent)),
		UseProgressGate:   util.ParseBoolEnv("STORYLOOM_PROGRESS_GATE", true),
		UseTokenGate:      util.ParseBoolEnv("STORYLOOM_TOKEN_GATE", true),
		MaxFollowUps:      int(util.ParseIntEnv("STORYLOOM_MAX_FOLLOWUPS", flow.DefaultMaxFollowUps)),
	}
	orch, err := flow.NewOrchestrator(cat, st, ai, engineCfg)
	if err != nil {
		slog.Error("Failed to build orchestrator", "error", err)
		os.Exit(1)
	}

	rp, err := reaper.New(st,
		reaper.WithSchedule(*flags.reaperCron),
		reaper.WithIdleTimeout(util.ParseDurationEnv("STORYLOOM_IDLE_TIMEOUT", reaper.DefaultIdleTimeout)),
	)
	if err != nil {
		slog.Error("Failed to configure session reaper", "error", err)
		os.Exit(1)
	}
	rp.Start()
	defer rp.Stop()

	server := api.NewServer(orch, ai, api.WithAddr(*flags.apiAddr))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- server.Run() }()

	slog.Info("StoryLoom running",
		"addr", *flags.apiAddr,
		"chapters", cat.ChapterCount(),
		"templates", cat.TotalTemplates(),
		"genai", ai != nil)

	select {
	case err := <-errCh:
		if err != nil {
			slog.Error("StoryLoom failed to run", "error", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("Graceful shutdown failed", "error", err)
			os.Exit(1)
		}
	}
	slog.Info("StoryLoom exited successfully")
}

// Config holds environment configuration
type Config struct {
	DBDriver    string
	DatabaseURL string
	StateDir    string
	OpenAIKey   string
	APIAddr     string
	ReaperCron  string
}

// Flags holds command line flag values
type Flags struct {
	stateDir   *string
	dbDriver   *string
	dbDSN      *string
	openaiKey  *string
	apiAddr    *string
	reaperCron *string
}

// initializeLogger sets up structured logging with debug level
func initializeLogger() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		DBDriver:    os.Getenv("STORYLOOM_DB_DRIVER"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		StateDir:    os.Getenv("STORYLOOM_STATE_DIR"),
		OpenAIKey:   os.Getenv("OPENAI_API_KEY"),
		APIAddr:     os.Getenv("API_ADDR"),
		ReaperCron:  os.Getenv("STORYLOOM_REAPER_SCHEDULE"),
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No STORYLOOM_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}
	if config.APIAddr == "" {
		config.APIAddr = api.DefaultAddr
	}
	if config.ReaperCron == "" {
		config.ReaperCron = reaper.DefaultSchedule
	}

	slog.Debug("environment variables loaded",
		"STORYLOOM_DB_DRIVER", config.DBDriver,
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"STORYLOOM_STATE_DIR", config.StateDir,
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"API_ADDR", config.APIAddr,
		"STORYLOOM_REAPER_SCHEDULE", config.ReaperCron)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		stateDir:   flag.String("state-dir", config.StateDir, "Directory for state data"),
		dbDriver:   flag.String("db-driver", config.DBDriver, "Database driver: memory, sqlite3, or postgres (auto-detected from DSN when empty)"),
		dbDSN:      flag.String("db-dsn", config.DatabaseURL, "Database DSN (file path for SQLite)"),
		openaiKey:  flag.String("openai-api-key", config.OpenAIKey, "OpenAI API key"),
		apiAddr:    flag.String("api-addr", config.APIAddr, "API listen address"),
		reaperCron: flag.String("reaper-schedule", config.ReaperCron, "Cron schedule for the idle-session reaper"),
	}
	flag.Parse()
	return flags
}

// openStore selects and opens the configured storage backend.
func openStore(flags Flags) (store.Store, error) {
	driver := *flags.dbDriver
	dsn := *flags.dbDSN

	if driver == "" {
		switch {
		case dsn == "":
			driver = "sqlite3"
		case strings.HasPrefix(dsn, "postgres://") || strings.Contains(dsn, "host="):
			driver = "postgres"
		default:
			driver = "sqlite3"
		}
	}

	switch driver {
	case "memory":
		slog.Info("openStore: using in-memory store")
		return store.NewInMemoryStore(), nil
	case "postgres":
		slog.Info("openStore: using PostgreSQL store")
		return store.NewPostgresStore(store.WithDSN(dsn))
	default:
		if dsn == "" {
			dsn = filepath.Join(*flags.stateDir, DefaultDBFileName)
			slog.Debug("openStore: no DSN provided, defaulting to SQLite in state dir", "sqlite_path", dsn)
		}
		slog.Info("openStore: using SQLite store", "path", dsn)
		return store.NewSQLiteStore(store.WithDSN(dsn))
	}
}

// loadCatalog returns the persisted catalog, seeding the embedded default
// definitions on first run.
func loadCatalog(st store.Store) (*catalog.Catalog, error) {
	chapters, err := st.LoadCatalogChapters()
	if err != nil {
		return nil, err
	}
	if len(chapters) > 0 {
		return catalog.New(chapters)
	}

	slog.Info("loadCatalog: no persisted catalog, seeding embedded defaults")
	seed, err := catalog.DefaultSeed()
	if err != nil {
		return nil, err
	}
	if err := st.ReplaceCatalog(seed); err != nil {
		return nil, err
	}
	return catalog.New(seed)
}
