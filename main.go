package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"referral-reward-system/handlers"
	"referral-reward-system/middleware"
	"referral-reward-system/models"
	"referral-reward-system/services"
	"referral-reward-system/utils"
	"referral-reward-system/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, reading environment variables directly")
	}

	app := fiber.New(fiber.Config{})

	// Only Gateway requests allowed — no exceptions
	app.Use(middleware.GatewayAuthMiddleware())

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL environment variable not set")
	}

	if err := utils.InitR2(); err != nil {
		log.Fatal("failed to initialize R2 client:", err)
	}

	// TranslateError maps unique-constraint violations to
	// gorm.ErrDuplicatedKey, which the reward engine's race handling
	// depends on.
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		log.Fatal("failed to connect to database:", err)
	}

	if err := models.AutoMigrate(db); err != nil {
		log.Fatal("failed to migrate database:", err)
	}

	provisioningURL := os.Getenv("PROVISIONING_SERVICE_URL")
	if provisioningURL == "" {
		log.Fatal("PROVISIONING_SERVICE_URL environment variable not set")
	}
	serviceToken := os.Getenv("REFERRAL_SERVICE_TOKEN")
	if serviceToken == "" {
		log.Fatal("REFERRAL_SERVICE_TOKEN environment variable not set")
	}

	provider := services.NewProvisioningClient(provisioningURL, serviceToken, db)

	userService := services.NewUserService(db)
	referralService := services.NewReferralService(db, provider)
	trialService := services.NewTrialService(db, provider)
	blocklistService := services.NewBlocklistService(db)
	reportService := services.NewReportService(db)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	syncWorker := workers.NewSubscriptionSyncWorker(db, provisioningURL, "/api/v1/sync/users", serviceToken)
	syncWorker.Start(ctx)

	reportService.StartExportScheduler()

	handlers.SetupReferralRoutes(app, userService, referralService, trialService, blocklistService)

	go func() {
		if err := app.Listen(":5300"); err != nil {
			log.Printf("Server error: %v", err)
		}
	}()

	log.Println("Server running on http://localhost:5300")
	log.Println("Subscription sync worker running")
	log.Println("Referral report export scheduled")

	<-ctx.Done()
	log.Println("Shutting down server...")
}
