package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/metinweb/ors-payment-service/binlookup"
	"github.com/metinweb/ors-payment-service/infra/config"
	"github.com/metinweb/ors-payment-service/infra/opensearch"
	"github.com/metinweb/ors-payment-service/payment"
	"github.com/metinweb/ors-payment-service/router"
	"github.com/metinweb/ors-payment-service/store"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg := config.GetAppConfig()
	if cfg.EncryptKey == "" {
		log.Fatal("ENCRYPT_KEY is required")
	}
	if cfg.APIKey == "" {
		log.Fatal("API_KEY is required")
	}

	st, err := store.Open(cfg.DatabasePath, cfg.EncryptKey)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer st.Close()

	var resolver binlookup.Resolver
	if cfg.BinAPIURL != "" {
		cached, err := binlookup.NewCachedResolver(binlookup.NewHTTPResolver(cfg.BinAPIURL, ""), 4096)
		if err != nil {
			log.Fatalf("Failed to build BIN resolver: %v", err)
		}
		resolver = cached
	}

	var auditor payment.Auditor
	if cfg.EnableLogging && cfg.OpenSearchURL != "" {
		osAuditor, err := opensearch.NewAuditor(cfg)
		if err != nil {
			log.Printf("OpenSearch auditing disabled: %v", err)
		} else {
			defer osAuditor.Close()
			auditor = osAuditor
			log.Println("OpenSearch transaction auditing enabled")
		}
	}

	service := payment.New(payment.Config{
		Store:        st,
		Resolver:     resolver,
		CallbackBase: cfg.CallbackBaseURL,
		Auditor:      auditor,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router.New(service, cfg),
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("Payment service listening on port %s", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Graceful shutdown failed: %v", err)
	}
}
