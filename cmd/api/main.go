package main

import (
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"

	"audio-processing-api/internal/config"
	"audio-processing-api/internal/handlers"
	"audio-processing-api/internal/httputil"
	"audio-processing-api/internal/logger"
	"audio-processing-api/internal/services"
	"audio-processing-api/internal/storage"
)

// allowedExtensions is the upload whitelist at the API boundary. The
// processor additionally handles m4a for library callers.
var allowedExtensions = []string{"wav", "mp3", "ogg", "flac"}

func main() {
	log := logger.New("audio-processing-api")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	uploads, err := storage.NewUploadStore(cfg.UploadDir, allowedExtensions, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init upload store")
	}

	processor, err := services.NewProcessor(cfg.OutputDir, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init audio processor")
	}

	handler := handlers.NewAudioHandler(processor, uploads, log)

	app := fiber.New(fiber.Config{
		ServerHeader:          "audio-processing-api",
		DisableStartupMessage: true,
		BodyLimit:             cfg.MaxUploadSize,
		ReadTimeout:           cfg.ReadTimeout,
		WriteTimeout:          cfg.WriteTimeout,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			var fe *fiber.Error
			if errors.As(err, &fe) {
				code = fe.Code
			}
			return httputil.WriteError(c, code, err.Error())
		},
	})

	app.Use(requestid.New())
	app.Use(recover.New())
	app.Use(fiberlogger.New())
	if cfg.EnableCORS {
		app.Use(cors.New())
	}

	handler.Register(app)

	stopSweep := make(chan struct{})
	if cfg.CleanupInterval > 0 {
		go func() {
			ticker := time.NewTicker(cfg.CleanupInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					processor.CleanupOldFiles()
				case <-stopSweep:
					return
				}
			}
		}()
	}

	go func() {
		sigint := make(chan os.Signal, 1)
		signal.Notify(sigint, os.Interrupt, syscall.SIGTERM)
		<-sigint

		log.Info().Msg("shutting down")
		close(stopSweep)
		if err := app.Shutdown(); err != nil {
			log.Warn().Err(err).Msg("server shutdown failed")
		}
	}()

	log.Info().Str("address", cfg.Address).Msg("server starting")
	if err := app.Listen(cfg.Address); err != nil {
		log.Error().Err(err).Msg("server stopped")
	}

	if err := processor.Close(); err != nil {
		log.Warn().Err(err).Msg("failed to remove output directory")
	}
}
