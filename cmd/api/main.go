package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"crmbridge/api/internal/app"
	"crmbridge/api/internal/archive"
	"crmbridge/api/internal/artifacts"
	"crmbridge/api/internal/config"
	"crmbridge/api/internal/crm"
	"crmbridge/api/internal/email"
	"crmbridge/api/internal/notify"
	"crmbridge/api/internal/portal"
	"crmbridge/api/internal/quote"
	"crmbridge/api/internal/reconcile"
	"crmbridge/api/internal/salesforce"
	"crmbridge/api/internal/sites"
	"crmbridge/api/internal/store"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}
	dataStore := store.NewPostgresStore(db)

	var tokenCache salesforce.TokenCache
	var redisCache *salesforce.RedisTokenCache
	if strings.TrimSpace(cfg.RedisURL) != "" {
		cache, err := salesforce.NewRedisTokenCache(cfg.RedisURL)
		if err != nil {
			log.Printf("WARNING: redis unavailable, tokens will not be cached: %v", err)
		} else {
			defer cache.Close()
			redisCache = cache
			tokenCache = cache
		}
	}

	sfClient := salesforce.NewClient(salesforce.Config{
		TokenURL:      cfg.SFTokenURL,
		ClientID:      cfg.SFClientID,
		ClientSecret:  cfg.SFClientSecret,
		Username:      cfg.SFUsername,
		Password:      cfg.SFPassword,
		SecurityToken: cfg.SFSecurityToken,
		APIVersion:    cfg.SFAPIVersion,
		Timeout:       cfg.SFTimeout,
	}, tokenCache)

	gateway := crm.NewGateway(sfClient, crm.Defaults{
		ParentAccountID: cfg.SFParentAccountID,
		SalesRepID:      cfg.SFSalesRepID,
		OwnerID:         cfg.SFOwnerID,
	})
	reconciler := reconcile.New(gateway)
	assembler := quote.New(gateway)

	mailer := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})
	var notifyTo []string
	for _, addr := range strings.Split(cfg.NotifyTo, ",") {
		if trimmed := strings.TrimSpace(addr); trimmed != "" {
			notifyTo = append(notifyTo, trimmed)
		}
	}
	dispatcher := notify.New(mailer, gateway, notifyTo, cfg.NotifyTimeout).
		WithRecorder(dataStore)

	archiveService := archive.New(cfg.ArchiveDir)
	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		artifactStore, err := artifacts.NewStore(ctx, artifacts.Config{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			log.Fatalf("artifact store setup failed: %v", err)
		}
		dispatcher.WithArchive(archiveService, artifactStore)
	} else {
		dispatcher.WithArchive(archiveService, nil)
	}

	directory, err := sites.Load(cfg.SitesFile)
	if err != nil {
		log.Fatalf("site directory load failed: %v", err)
	}
	var meiliClient *sites.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = sites.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	siteService := sites.NewService(meiliClient, directory)
	siteService.Bootstrap()

	members := portal.NewClient(cfg.MemberstackURL, cfg.MemberstackAPIKey)

	service := app.NewService(gateway, assembler, reconciler, dispatcher, members, siteService).
		WithRequestLog(dataStore).
		WithDB(dataStore)
	if redisCache != nil {
		service.WithRedis(redisCache)
	}
	if enrolled, err := dataStore.HasActiveAPIKeys(ctx); err == nil && enrolled {
		log.Printf("portal key authentication enabled")
		service.WithAPIKeys(dataStore)
	}

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("CRM bridge API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
	// let in-flight notification emails finish
	dispatcher.Wait()
}
