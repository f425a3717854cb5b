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

	"beratung.org/internal/events"
	"beratung.org/internal/messaging"
	"beratung.org/internal/obs"
	"beratung.org/internal/reconcile"
	"beratung.org/internal/store"
	"beratung.org/internal/store/pg"
)

var version = "0.3.1"

func main() {
	obs.Init()
	obs.InitBuildInfo(version, os.Getenv("BERATUNG_COMMIT"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var st store.Store
	var pgStore *pg.Store
	if dsn := os.Getenv("BERATUNG_PG_DSN"); dsn != "" {
		var err error
		pgStore, err = pg.Open(dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		st = pgStore
	} else {
		log.Print("BERATUNG_PG_DSN not set, using in-memory store")
		st = store.NewInMemory()
	}

	msg := messaging.NewClient(messaging.Config{
		BaseURL:            os.Getenv("BERATUNG_MESSAGING_URL"),
		RegistrationSecret: os.Getenv("BERATUNG_MESSAGING_REG_SECRET"),
	}, messaging.NewTokenCache(0))

	// background healing of principals provisioned while messaging was down
	rec := reconcile.New(st, msg, reconcile.WithInterval(envDuration("BERATUNG_RECONCILE_INTERVAL", 5*time.Minute)))
	go rec.Run(ctx)

	// room event stream as the system account
	system := messaging.Credentials{
		UserID: os.Getenv("BERATUNG_SYSTEM_USER"),
		Secret: os.Getenv("BERATUNG_SYSTEM_SECRET"),
	}
	if system.UserID != "" {
		listener := events.NewListener(msg, system)
		go listener.Run(ctx)
		go logEvents(listener)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", obs.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if pgStore != nil {
			pingCtx, pingCancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer pingCancel()
			if err := pgStore.DB().PingContext(pingCtx); err != nil {
				http.Error(w, "db unreachable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
	})

	addr := os.Getenv("BERATUNG_LISTEN")
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting provisiond %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	_ = srv.Shutdown(shutdownCtx)
	if pgStore != nil {
		_ = pgStore.Close()
	}
	log.Println("Stopped")
}

func logEvents(listener *events.Listener) {
	ch, cancel := listener.Subscribe()
	defer cancel()
	for ev := range ch {
		if !strings.HasPrefix(ev.Type, "m.room.message") {
			continue
		}
		obs.Info("room event", map[string]any{
			"room_id":  ev.RoomID,
			"event_id": ev.EventID,
			"sender":   ev.Sender,
		})
	}
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
