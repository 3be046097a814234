package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/gofiber/fiber/v3/middleware/requestid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/jgabriele321/remindd/followup"
	"github.com/jgabriele321/remindd/notify"
	"github.com/jgabriele321/remindd/reminder"
)

const shutdownTimeout = 15 * time.Second

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler and the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx)
		},
	}
}

func serve(ctx context.Context) error {
	rt, err := loadRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close(context.Background())
	cfg := rt.cfg

	dispatcher := rt.dispatcher()
	assignments := followup.NewRegistry()
	service := reminder.NewService(rt.store,
		reminder.WithBusyWait(cfg.BusyWait),
		reminder.WithAssignmentChecker(assignments),
	)
	scheduler := reminder.NewScheduler(rt.store, dispatcher,
		reminder.WithPollInterval(cfg.PollInterval),
		reminder.WithWorkers(cfg.DispatchWorkers),
		reminder.WithBatchSize(cfg.DueBatchSize),
		reminder.WithLeaseTimeout(cfg.LeaseTimeout),
		reminder.WithRetryPolicy(cfg.RetryDelay, cfg.MaxDeliveryRetries),
		reminder.WithLocation(rt.location),
		reminder.WithTickHook(rt.metrics.ObserveTick),
	)

	app := newHTTPApp(rt.log)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(rt.registry, promhttp.HandlerOpts{})))
	reminder.NewHandler(service, rt.location).Register(app)
	notify.NewHandler(rt.announcer(), rt.directory, dispatcher).Register(app)
	followup.NewHandler(followup.NewProducer(assignments, service, dispatcher)).Register(app)

	scheduler.Start()
	defer scheduler.Stop()

	errCh := make(chan error, 1)
	go func() {
		rt.log.WithField("address", cfg.Address).Info("http server listening")
		errCh <- app.Listen(cfg.Address, fiber.ListenConfig{DisableStartupMessage: true})
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	rt.log.Info("shutting down")
	if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
		rt.log.WithError(err).Warn("http server did not shut down cleanly")
	}
	return nil
}

func newHTTPApp(log *logrus.Logger) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:      "remindd",
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
		ErrorHandler: func(c fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			var fe *fiber.Error
			if errors.As(err, &fe) {
				code = fe.Code
			}
			log.WithError(err).WithFields(logrus.Fields{
				"method": c.Method(),
				"path":   c.Path(),
				"code":   code,
			}).Error("request error")
			return c.Status(code).JSON(fiber.Map{
				"status":  "error",
				"code":    "internal_error",
				"message": err.Error(),
			})
		},
	})

	app.Use(recover.New())
	app.Use(requestid.New(requestid.Config{Header: "X-Request-ID"}))
	app.Use(func(c fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		log.WithFields(logrus.Fields{
			"method":    c.Method(),
			"path":      c.Path(),
			"status":    c.Response().StatusCode(),
			"latency":   time.Since(start).String(),
			"requestId": requestid.FromContext(c),
		}).Debug("request handled")
		return err
	})

	app.Get("/health", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "success", "data": fiber.Map{"healthy": true}})
	})
	return app
}
