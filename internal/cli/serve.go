package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"gate-service/internal/camera"
	"gate-service/internal/config"
	"gate-service/internal/db"
	"gate-service/internal/embedcache"
	"gate-service/internal/events"
	"gate-service/internal/hardware"
	apphttp "gate-service/internal/http"
	"gate-service/internal/identity"
	"gate-service/internal/matcher"
	"gate-service/internal/repository"
	"gate-service/internal/service"
	"gate-service/internal/session"
	"gate-service/internal/status"
	"gate-service/internal/vision"
)

func init() {
	RootCmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Connect to the gate controller and camera and serve the status API",
		RunE:  runServe,
	})
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := newLogger(cfg.Log)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().
		Str("flow", string(cfg.Session.Flow)).
		Str("camera", cfg.Camera.Source).
		Str("db", cfg.DB.DSNForLog()).
		Msg("starting gate service")

	gdb, err := db.Connect(ctx, cfg.DB.DSN(), log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close(gdb)

	link, err := hardware.Discover(ctx, hardware.DiscoverConfig{
		BaudRate:         cfg.Serial.BaudRate,
		SettleDelay:      cfg.Serial.SettleDelay,
		HandshakeTimeout: cfg.Serial.HandshakeTimeout,
		Port:             cfg.Serial.Port,
	}, log.With().Str("component", "hardware").Logger())
	if err != nil {
		log.Fatal().Err(err).Msg("gate controller not found")
	}
	defer link.Close()

	src, err := openCamera(cfg.Camera, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open camera")
	}
	cam := camera.NewResource(src, log.With().Str("component", "camera").Logger())
	defer cam.Close()

	store := identity.NewFileStore(cfg.Storage.BaseDir, log.With().Str("component", "identity").Logger())
	repo := repository.NewAccessRepository(gdb)
	vehicleService := service.NewVehicleService(repo, store, log)
	reviewService := service.NewReviewService(store, log)

	client := vision.NewClient(cfg.Vision.BaseURL, cfg.Vision.Timeout)
	var candidates vision.Embedder = client
	if cfg.Storage.EmbeddingCache != "" {
		cache, err := embedcache.Open(cfg.Storage.EmbeddingCache, client, log)
		if err != nil {
			log.Warn().Err(err).Msg("embedding cache disabled")
		} else {
			defer cache.Close()
			candidates = cache
		}
	}
	inspector := vision.NewInspector(client, client, vision.DefaultInspectorConfig(), log.With().Str("component", "inspector").Logger())

	observers := []session.Observer{vehicleService}
	if cfg.MQTT.Broker != "" {
		connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		pub, err := events.Connect(connectCtx, events.Config{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
			Topic:    cfg.MQTT.Topic,
			QoS:      byte(cfg.MQTT.QoS),
		}, log.With().Str("component", "events").Logger())
		cancel()
		if err != nil {
			log.Warn().Err(err).Msg("access events will not be published")
		} else {
			defer func() {
				stats := pub.Stats()
				log.Info().Uint64("published", stats.Published).Uint64("errors", stats.Errors).Msg("access event publisher closing")
				pub.Close()
			}()
			observers = append(observers, pub)
		}
	}

	surface := status.NewSurface()
	orchestrator := session.New(session.Config{
		Flow:             cfg.Session.Flow,
		DetectionTimeout: cfg.Session.DetectionTimeout,
		DisplayDelay:     cfg.Session.DisplayDelay,
		HighThreshold:    cfg.Session.HighThreshold,
		LowThreshold:     cfg.Session.LowThreshold,
	}, session.Deps{
		Camera:        cam,
		Store:         store,
		Matcher:       matcher.New(candidates, log.With().Str("component", "matcher").Logger()),
		ProbeEmbedder: client,
		Reader:        client,
		Inspect:       inspector.Accept,
		Vehicles:      vehicleService,
		Commander:     link,
		Status:        surface,
		Observers:     observers,
	}, log.With().Str("component", "session").Logger())
	defer orchestrator.Close()

	presence := hardware.NewPresence(cfg.Serial.DistanceThreshold)
	go func() {
		if err := link.Listen(ctx, presence, orchestrator.HandleEdge); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("telemetry listener stopped")
		}
	}()

	go runRetention(ctx, vehicleService, cfg.Events.RetentionDays, log)

	if !cfg.IsDev() {
		gin.SetMode(gin.ReleaseMode)
	}
	handler := apphttp.NewHandler(vehicleService, reviewService, surface, store, cam, cfg.HTTP.PreviewFPS, log)
	srv := &http.Server{
		Addr:        ":" + cfg.HTTP.Port,
		Handler:     apphttp.NewRouter(handler, cfg.HTTP.CORSOrigins, cfg.Auth.JWTSecret, log),
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown failed")
	}
	return nil
}

func openCamera(cfg config.CameraConfig, log zerolog.Logger) (camera.Source, error) {
	switch cfg.Source {
	case "gst":
		return camera.NewGstSource(cfg.Device, cfg.Width, cfg.Height, log)
	case "http":
		return camera.NewHTTPSource(cfg.URL, cfg.Username, cfg.Password, cfg.Timeout), nil
	}
	return nil, fmt.Errorf("unknown camera source %q", cfg.Source)
}

// runRetention trims the access log once at startup and then daily.
func runRetention(ctx context.Context, svc *service.VehicleService, days int, log zerolog.Logger) {
	if days <= 0 {
		return
	}
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		if _, err := svc.CleanupOldEvents(ctx, days); err != nil {
			log.Warn().Err(err).Msg("event retention run failed")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
