package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tutorly.org/internal/auth"
	"tutorly.org/internal/httpapi"
	"tutorly.org/internal/market"
	"tutorly.org/internal/market/pg"
	"tutorly.org/internal/obs"
	"tutorly.org/internal/payments"
	"tutorly.org/internal/stream"
)

var (
	version = "0.3.1"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	var (
		svc   market.Service
		users auth.UserStore
		db    *sql.DB
	)
	if dsn := os.Getenv("TUTORLY_PG_DSN"); dsn != "" {
		store, err := pg.Open(dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		defer store.Close()
		svc = store
		users = store
		db = store.DB()
	} else {
		log.Println("TUTORLY_PG_DSN not set; using in-memory storage")
		svc = market.NewInMemory()
		users = auth.NewInMemoryUsers()
	}

	identity := auth.NewService(users)
	provider := payments.NewManual(os.Getenv("TUTORLY_CHECKOUT_SECRET"))
	feed := stream.New()

	api := httpapi.New(httpapi.ReadyProbe{DB: db}, version, svc, identity, provider, feed)

	addr := os.Getenv("TUTORLY_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting tutorly-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	log.Println("Stopped")
}
