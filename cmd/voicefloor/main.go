package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/fennwick/voicefloor/internal/config"
	"github.com/fennwick/voicefloor/internal/diarize"
	"github.com/fennwick/voicefloor/internal/server"
	"github.com/fennwick/voicefloor/internal/session"
	"github.com/fennwick/voicefloor/internal/store"
	"github.com/fennwick/voicefloor/internal/summary"
)

const defaultConfigPath = "voicefloor.yaml"

func main() {
	_ = godotenv.Load()

	configPath := os.Getenv(config.EnvPrefix + "CONFIG")
	if configPath == "" {
		configPath = defaultConfigPath
	}

	cfg, warnings, err := config.Load(configPath)
	if err != nil {
		boot := zerolog.New(os.Stderr)
		boot.Fatal().Err(err).Msg("load configuration")
	}

	log := newLogger(cfg.LogLevel)
	for _, w := range warnings {
		log.Warn().Msg(w)
	}

	st, err := store.NewMemoryStore()
	if err != nil {
		log.Fatal().Err(err).Msg("open session store")
	}
	defer func() { _ = st.Close() }()

	var factory diarize.Factory
	if cfg.DeepgramAPIKey != "" {
		factory = diarize.DeepgramFactory(cfg.DeepgramAPIKey, cfg.AudioSampleRate, log)
	} else {
		factory = func(string, diarize.Handler) (diarize.Client, error) {
			return &diarize.Noop{Log: log}, nil
		}
	}

	var summarizer session.Summarizer
	if cfg.OpenAIAPIKey != "" {
		summarizer = summary.NewOpenAI(cfg.OpenAIAPIKey, cfg.OpenAIModel, st)
	}

	reg := session.NewRegistry(session.RegistryConfig{
		Store:       st,
		Factory:     factory,
		Timeouts:    cfg.TimeoutConfig(),
		MatchWindow: cfg.EnrollmentWindow(),
		Summarizer:  summarizer,
		Log:         log,
	})

	httpServer := &http.Server{
		Addr:    cfg.Addr,
		Handler: server.Handler(reg, st, log),
	}

	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("gateway listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("gateway server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http shutdown failed")
	}
	reg.Shutdown()
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(os.Stderr).Level(lvl).With().Timestamp().Logger()
}
