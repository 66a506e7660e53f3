// Command tank-server runs the conversation orchestration core: it
// accepts WebSocket connections, negotiates the audio/control protocol,
// and drives each session through segmentation, ASR, reasoning, and TTS.
// Adapted from the teacher's root main.go (config load → log init →
// dependent-service init → blocking server start), generalized to build
// and inject the ASR/LLM/TTS adapters and tool registry this module
// depends on instead of the teacher's single Python sidecar handshake,
// and to shut down on SIGINT/SIGTERM instead of running forever.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/zbcjackson/tank-server/asr"
	"github.com/zbcjackson/tank-server/bridge"
	"github.com/zbcjackson/tank-server/config"
	"github.com/zbcjackson/tank-server/llm"
	"github.com/zbcjackson/tank-server/logging"
	"github.com/zbcjackson/tank-server/model"
	"github.com/zbcjackson/tank-server/readiness"
	"github.com/zbcjackson/tank-server/tools"
	"github.com/zbcjackson/tank-server/transport"
	"github.com/zbcjackson/tank-server/tts"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logging.Init(cfg.Log)
	if err != nil {
		fmt.Printf("failed to init logging: %v\n", err)
		os.Exit(1)
	}
	log.Info().Str("config_path", *configPath).Msg("starting tank-server")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	deps := map[string]string{"asr": cfg.ASR.ServerURL, "tts": cfg.TTS.ServerURL}
	if err := readiness.WaitForServices(ctx, log, deps, 30, time.Second); err != nil {
		log.Fatal().Err(err).Msg("dependency never became ready")
	}

	registry := buildToolRegistry(cfg)
	handler := bridge.New(
		cfg,
		asr.NewHTTPTranscriber(cfg.ASR, model.ParseLanguage(cfg.TTS.DefaultLanguage)),
		llm.NewHTTPProvider(cfg.LLM),
		tts.NewHTTPSynthesizer(cfg.TTS, cfg.Audio.SampleRateOut),
		registry,
	)

	wsServer := transport.NewServer(cfg, log, handler)
	wsMux := http.NewServeMux()
	wsMux.HandleFunc("/ws/{session_id}", func(w http.ResponseWriter, r *http.Request) { wsServer.Handle(ctx, w, r) })
	wsMux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) { wsServer.Handle(ctx, w, r) })
	httpSrv := &http.Server{Addr: fmt.Sprintf("%s:%d", cfg.Transport.Host, cfg.Transport.Port), Handler: wsMux}

	adminMux := http.NewServeMux()
	adminMux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	adminMux.Handle("/metrics", promhttp.Handler())
	adminSrv := &http.Server{Addr: fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port), Handler: adminMux}

	go func() {
		log.Info().Str("addr", httpSrv.Addr).Msg("websocket transport listening")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("websocket transport stopped")
		}
	}()
	go func() {
		log.Info().Str("addr", adminSrv.Addr).Msg("admin http listening")
		if err := adminSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("admin http stopped")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info().Msg("shutdown signal received")

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	_ = adminSrv.Shutdown(shutdownCtx)
	log.Info().Msg("tank-server stopped")
}

func buildToolRegistry(cfg *config.Config) *tools.Registry {
	registry := tools.NewRegistry()
	registry.Register(tools.CalculatorTool{})
	registry.Register(tools.NewClockTool())
	if search := tools.NewWebSearchTool(cfg.Tools.SerperAPIKey, 10*time.Second); search != nil {
		registry.Register(search)
	}
	return registry
}
