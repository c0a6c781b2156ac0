package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloudstorm/backend/internal/config"
	"github.com/cloudstorm/backend/internal/database"
	"github.com/cloudstorm/backend/internal/handlers"
	"github.com/cloudstorm/backend/internal/middleware"
	"github.com/cloudstorm/backend/internal/services"
	"github.com/cloudstorm/backend/internal/storage"
	"github.com/cloudstorm/backend/pkg/logger"
	"github.com/cloudstorm/backend/pkg/utils"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"
)

const recoveryInterval = time.Minute

func main() {
	logger.Init()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	utils.ConfigureJWT(cfg.JWT.Secret, cfg.JWT.ExpirationHours)

	cipher, err := utils.NewCipher(cfg.Encryption.Key)
	if err != nil {
		log.Fatalf("encryption initialization failed: %v", err)
	}

	db, err := database.Connect(cfg.DB)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}

	storageClient, err := storage.NewMinIOClient(cfg.MinIO)
	if err != nil {
		log.Fatalf("minio initialization failed: %v", err)
	}
	if err := storageClient.EnsureBucket(context.Background()); err != nil {
		log.Fatalf("failed ensuring minio bucket: %v", err)
	}

	vault, err := services.NewPasscodeVault(db, cipher)
	if err != nil {
		log.Fatalf("passcode vault initialization failed: %v", err)
	}

	store := services.NewMembershipStore(db)
	var memberships services.MembershipWriter = store
	if cfg.Redis.Enabled() {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			logger.Warn("redis_unavailable", map[string]interface{}{
				"addr":  cfg.Redis.Addr,
				"error": err.Error(),
			})
		}
		memberships = services.NewCachedMembershipStore(store, rdb, cfg.Redis.MembershipTTL)
		logger.Info("membership_cache_enabled", map[string]interface{}{
			"addr": cfg.Redis.Addr,
			"ttl":  cfg.Redis.MembershipTTL.String(),
		})
	}

	registry := services.NewGroupRegistry(db, memberships)
	gate := services.NewStateGate(db)
	access := services.NewAccessService(memberships, registry, vault, gate)
	audit := services.NewAuditService(db)
	queue := services.NewEnrichmentQueue(db, gate, services.MetadataEnricher{}, cfg.Enrichment)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	queue.RecoverStaleJobs(ctx)
	go queue.RunRecovery(ctx, recoveryInterval)

	groups := &services.GroupService{
		DB:             db,
		Access:         access,
		Registry:       registry,
		Memberships:    memberships,
		Vault:          vault,
		Blobs:          storageClient,
		Audit:          audit,
		DefaultMaxSize: cfg.Groups.DefaultMaxSize,
	}
	files := &services.FileService{
		DB:          db,
		Access:      access,
		Registry:    registry,
		Memberships: memberships,
		Gate:        gate,
		Blobs:       storageClient,
		Queue:       queue,
		Audit:       audit,
	}
	mass := services.NewMassDeleteService(db, access, storageClient, audit)

	router := &handlers.Router{
		Auth:   middleware.NewAuthMiddleware(db),
		Groups: handlers.NewGroupsHandler(groups),
		Files:  handlers.NewFilesHandler(files, mass),
		Access: handlers.NewAccessHandler(access),
	}

	app := fiber.New(fiber.Config{BodyLimit: cfg.Server.BodyLimit})
	app.Use(recover.New(recover.Config{EnableStackTrace: true}))
	app.Use(middleware.CORS(cfg.Server.CORSOrigins))
	app.Use(middleware.RequestLogger())
	router.Register(app)

	listenAddr := fmt.Sprintf(":%s", cfg.Server.Port)
	logger.Info("server_starting", map[string]interface{}{
		"address":       listenAddr,
		"body_limit":    cfg.Server.BodyLimit,
		"redis_enabled": cfg.Redis.Enabled(),
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Listen(listenAddr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Printf("shutting down server due to signal: %s", sig)
		cancel()
		shutdownDone := make(chan struct{})
		go func() {
			_ = app.Shutdown()
			close(shutdownDone)
		}()
		select {
		case <-shutdownDone:
		case <-time.After(10 * time.Second):
			log.Print("forced shutdown timeout reached")
		}
	case err := <-errCh:
		if err != nil {
			log.Fatalf("server error: %v", err)
		}
	}
}
