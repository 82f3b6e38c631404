package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/cors"

	"github.com/opsbridge/cmdb/internal/ciloader"
	"github.com/opsbridge/cmdb/internal/config"
	"github.com/opsbridge/cmdb/internal/db"
	"github.com/opsbridge/cmdb/internal/discovery"
	"github.com/opsbridge/cmdb/internal/export"
	"github.com/opsbridge/cmdb/internal/graph"
	"github.com/opsbridge/cmdb/internal/httpapi"
	"github.com/opsbridge/cmdb/internal/mapping"
	"github.com/opsbridge/cmdb/internal/middleware"
	"github.com/opsbridge/cmdb/internal/repository"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load(".")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	conn, err := db.NewConnection(ctx, cfg.CMDB)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer conn.Close()

	if err := db.RunMigrations(cfg.CMDB, cfg.MigrationsPath); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	// The inventory store is a separate system; when disabled or
	// unreachable the repository degrades to an unavailable state surfaced
	// on first use.
	var inventoryRepo repository.InventoryRepository
	if cfg.Inventory.Enabled {
		invConn, err := db.NewConnection(ctx, cfg.Inventory.DB)
		if err != nil {
			log.Printf("Inventory store unreachable, mappings degraded: %v", err)
			inventoryRepo = repository.NewInventoryRepository(nil)
		} else {
			defer invConn.Close()
			inventoryRepo = repository.NewInventoryRepository(invConn.Pool)
		}
	} else {
		inventoryRepo = repository.NewInventoryRepository(nil)
	}

	ciRepo := repository.NewCIRepository(conn.Pool)
	relRepo := repository.NewRelationshipRepository(conn.Pool)
	discoveryRepo := repository.NewDiscoveryRepository(conn.Pool)
	mappingRepo := repository.NewMappingRepository(conn.Pool)
	serviceRepo := repository.NewBusinessServiceRepository(conn.Pool)
	auditRepo := repository.NewAuditRepository(conn.Pool)

	loader := ciloader.New(ciRepo)
	graphManager := graph.NewManager(ciRepo, relRepo, loader, auditRepo)
	impactEngine := graph.NewImpactEngine(ciRepo, relRepo, serviceRepo)
	treeBuilder := graph.NewTreeBuilder(ciRepo, relRepo)

	registry := discovery.NewRegistry()
	discoverySvc := discovery.NewService(discoveryRepo, ciRepo, registry, auditRepo)
	mappingSvc := mapping.NewService(mappingRepo, ciRepo, inventoryRepo, auditRepo)

	exportSvc, err := export.NewService(cfg.ExportDir)
	if err != nil {
		log.Fatalf("Failed to init export service: %v", err)
	}

	handler := httpapi.New(graphManager, impactEngine, treeBuilder, discoverySvc, mappingSvc, exportSvc)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowCredentials: true,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
	})

	server := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      corsHandler.Handler(middleware.Logging(handler.Routes())),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Starting CMDB server on %s", cfg.ListenAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}
