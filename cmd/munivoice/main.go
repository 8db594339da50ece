// munivoice is the telephone assistant service for the municipal utility
// district: it answers provider webhooks, terminates media streams, and runs
// the transcribe/mask/respond pipeline for each call.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/munivoice/munivoice-go/internal/config"
	"github.com/munivoice/munivoice-go/internal/gateway"
	"github.com/munivoice/munivoice-go/internal/mediastream"
	"github.com/munivoice/munivoice-go/pkg/ai"
	"github.com/munivoice/munivoice-go/pkg/audit"
	"github.com/munivoice/munivoice-go/pkg/convo"
	"github.com/munivoice/munivoice-go/pkg/knowledge"
	"github.com/munivoice/munivoice-go/pkg/pii"
	"github.com/munivoice/munivoice-go/pkg/plugin/openai"
	"github.com/munivoice/munivoice-go/pkg/security/ratelimit"
	"github.com/munivoice/munivoice-go/pkg/security/webhook"
	"github.com/munivoice/munivoice-go/pkg/session"
	"github.com/munivoice/munivoice-go/pkg/version"
)

var rootCmd = &cobra.Command{
	Use:          "munivoice",
	Short:        "Telephone assistant service for the municipal utility district",
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.GetVersionInfo())
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the webhook gateway and media stream server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		logger := setupLogger(cfg)
		logger.Info("starting munivoice",
			slog.String("version", version.Version),
			slog.String("commit", version.GitCommit),
			slog.String("listen", cfg.ListenAddr))

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		return serve(ctx, cfg, logger)
	},
}

var healthzCmd = &cobra.Command{
	Use:   "healthz",
	Short: "Check a running instance's health endpoint",
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		resp, err := http.Get("http://" + addr + "/health")
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("health check failed: %s", resp.Status)
		}
		fmt.Println("ok")
		return nil
	},
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	engine := pii.New()

	store, err := audit.NewFileStore(cfg.AuditLogPath)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	defer store.Close()
	logger.Info("audit log open",
		slog.String("path", cfg.AuditLogPath),
		slog.Duration("retention", cfg.AuditRetention))

	auditor, err := audit.New(audit.Config{
		Store:  store,
		Masker: engine,
		Logger: logger,
		Alert: func(err error) {
			logger.Error("AUDIT WRITE FAILURE, events are being lost",
				slog.String("error", err.Error()))
		},
	})
	if err != nil {
		return err
	}

	providerCfg := openai.Config{
		APIKey:   cfg.OpenAIAPIKey,
		LLMModel: cfg.LLMModel,
		Voice:    cfg.Voice,
	}
	sttProvider, err := openai.NewWhisperSTT(providerCfg)
	if err != nil {
		return err
	}
	llmProvider, err := openai.NewChatLLM(providerCfg)
	if err != nil {
		return err
	}
	ttsProvider, err := openai.NewSpeechTTS(providerCfg)
	if err != nil {
		return err
	}

	validator, err := webhook.New(cfg.WebhookSecret, cfg.AllowedCIDRs)
	if err != nil {
		return err
	}

	limitCfg := ratelimit.DefaultConfig()
	limitCfg.Routes["/voice/incoming"] = ratelimit.Limit{
		Requests: cfg.IncomingPerMin,
		Window:   time.Minute,
	}
	limiter := ratelimit.New(limitCfg)

	history := convo.NewStore(convo.DefaultMaxTurns)
	kb := knowledge.NewDistrictBase()
	registry := session.NewRegistry(cfg.RemovalGrace, logger)

	retry := ai.DefaultRetryConfig
	retry.AttemptBudget = cfg.AttemptBudget

	factory := func(callSID, caller string) session.Config {
		return session.Config{
			CallSID:         callSID,
			Caller:          caller,
			Providers:       session.Providers{STT: sttProvider, LLM: llmProvider, TTS: ttsProvider},
			Knowledge:       kb,
			Context:         history,
			Audit:           auditor,
			PII:             engine,
			Hours:           knowledge.DistrictHours(),
			Retry:           retry,
			Logger:          logger,
			Voice:           cfg.Voice,
			MaxContextTurns: cfg.MaxContextTurns,
		}
	}

	gw, err := gateway.New(gateway.Config{
		Logger:    logger,
		Limiter:   limiter,
		Validator: validator,
		Registry:  registry,
		Audit:     auditor,
		Sessions:  factory,
		StreamURL: streamURL(cfg.ListenAddr),
	})
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	gw.Routes(mux)
	mux.Handle("/voice/stream", mediastream.NewHandler(registry, logger))

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Expired rate limit buckets are reclaimed and idle sessions reaped in
	// the background. The reap is the backstop for calls whose terminal
	// status callback was lost.
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				limiter.PruneExpired()
				if n := registry.ReapIdle(ctx, cfg.IdleTimeout); n > 0 {
					logger.Warn("reaped idle sessions", slog.Int("count", n))
				}
			}
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	registry.Close(shutdownCtx)
	return srv.Shutdown(shutdownCtx)
}

// streamURL derives the websocket endpoint announced to the provider.
// Behind the usual TLS terminator the public scheme is wss.
func streamURL(listenAddr string) string {
	if public := os.Getenv("MUNIVOICE_PUBLIC_HOST"); public != "" {
		return "wss://" + public + "/voice/stream"
	}
	return "ws://localhost" + listenAddr + "/voice/stream"
}

func setupLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{}
	switch cfg.LogLevel {
	case "debug":
		opts.Level = slog.LevelDebug
	case "warn":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	default:
		opts.Level = slog.LevelInfo
	}

	var handler slog.Handler
	if cfg.LogFormat == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

func main() {
	healthzCmd.Flags().String("addr", "localhost:8080", "address of the running instance")
	rootCmd.AddCommand(serveCmd, healthzCmd, versionCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
