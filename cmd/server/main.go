package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/dkeye/voiceindicator/internal/adapters/http"
	"github.com/dkeye/voiceindicator/internal/adapters/rtc"
	wssignal "github.com/dkeye/voiceindicator/internal/adapters/signal"
	"github.com/dkeye/voiceindicator/internal/app"
	"github.com/dkeye/voiceindicator/internal/app/conference"
	"github.com/dkeye/voiceindicator/internal/config"
	"github.com/dkeye/voiceindicator/internal/metrics"
)

// slow subscribers are kicked after this many consecutive dropped events
const maxDroppedEvents = 64

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics(reg)

	conferences := conference.NewManager(ctx, conference.Options{
		MinVolumeDecibels: cfg.MinVolumeDecibels,
		MaxVolumeDecibels: cfg.MaxVolumeDecibels,
		QueueSize:         cfg.FrameQueue,
		IdleTimeout:       cfg.ConferenceIdleTimeout,
		Metrics:           m,
		Logger:            log.Logger,
	})

	mediaAPI, err := rtc.NewAPI()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build media api")
	}

	ctl := &wssignal.SignalWSController{
		Conferences: conferences,
		Policy:      app.SimplePolicy{MaxDropped: maxDroppedEvents},
		Metrics:     m,
		MediaAPI:    mediaAPI,
		Opts: wssignal.Options{
			ReadLimit:         cfg.ReadLimit,
			PingPeriod:        cfg.PingPeriod,
			SubscriberQueue:   cfg.SubscriberQueue,
			FrameRateLimit:    cfg.FrameRateLimit,
			FrameRateInterval: cfg.FrameRateInterval,
			LevelInterval:     cfg.LevelInterval,
			WebRTC:            rtc.WebRTCConfig(cfg.ICEServers),
		},
	}

	r := router.SetupRouter(ctx, cfg, router.Deps{
		Conferences: conferences,
		Signal:      ctl,
		Metrics:     m,
		Gatherer:    reg,
	})
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("voice indicator server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	conferences.StopAll()
	log.Info().Msg("Server exited gracefully")
}
