package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/llmready/llmready/app/controllers"
	"github.com/llmready/llmready/internal/pkg/billing"
	"github.com/llmready/llmready/internal/pkg/cache"
	"github.com/llmready/llmready/internal/pkg/database"
	"github.com/llmready/llmready/internal/pkg/env"
	"github.com/llmready/llmready/internal/pkg/generator"
	"github.com/llmready/llmready/internal/pkg/jobqueue"
	"github.com/llmready/llmready/internal/pkg/mail"
	"github.com/llmready/llmready/internal/pkg/maintenance"
	"github.com/llmready/llmready/internal/pkg/quota"
	"github.com/llmready/llmready/internal/pkg/router"
	"github.com/llmready/llmready/internal/pkg/scheduler"
)

func main() {
	app, shutdown := NewApplication()
	defer shutdown()

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig
		_ = app.Shutdown()
	}()

	addr := fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000"))
	if err := app.Listen(addr); err != nil {
		log.Fatal(err)
	}
}

// NewApplication wires the full service: database, cache, job queues with
// their handlers, scheduler and the HTTP surface. The returned shutdown
// function stops the background machinery in reverse order.
func NewApplication() (*fiber.App, func()) {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()

	db := database.GetDB()

	gracePeriod := time.Duration(env.GetEnvInt("GRACE_PERIOD_DAYS", 7)) * 24 * time.Hour
	ledger := quota.NewLedger(db, gracePeriod)

	manager := jobqueue.GetManager()
	orchestrator := generator.NewOrchestrator(db, ledger, manager.GenerationQueue())

	notifier := mail.NewGenerationNotifier()
	worker := generator.NewWorkerFromEnv(db, notifier)
	manager.GenerationQueue().Register(jobqueue.JobTypeGenerate, worker.HandleJob)

	billingRepo := billing.NewRepository(db)
	fetcher := billing.NewStripeFetcher(env.GetEnv("STRIPE_SECRET_KEY", ""))
	billingService := billing.NewService(billingRepo, fetcher)

	runner := maintenance.NewRunner(db, maintenance.ConfigFromEnv(), billingService)
	manager.MaintenanceQueue().Register(jobqueue.JobTypeQuotaReset, runner.HandleQuotaReset)
	manager.MaintenanceQueue().Register(jobqueue.JobTypeCleanupStale, runner.HandleCleanup)
	manager.MaintenanceQueue().Register(jobqueue.JobTypeBillingResync, runner.HandleBillingResync)

	manager.Start()

	sched := scheduler.New(manager.MaintenanceQueue())
	if err := sched.Start(); err != nil {
		log.Fatalf("failed to start scheduler: %v", err)
	}

	app := fiber.New(fiber.Config{
		AppName:   "llmready",
		BodyLimit: 1 * 1024 * 1024,
	})
	app.Use(recover.New(), logger.New())

	router.InstallRouter(app, router.Controllers{
		Generation: controllers.NewGenerationController(orchestrator, ledger),
		Webhook:    controllers.NewWebhookController(billingService),
	})

	shutdown := func() {
		sched.Stop()
		manager.Stop()
	}
	return app, shutdown
}
