package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"

	"testpool/internal/api"
	"testpool/internal/config"
	"testpool/internal/engine"
	"testpool/internal/metric"
	"testpool/internal/notify"
	"testpool/internal/pg"
	"testpool/internal/schema"
	"testpool/internal/store"
)

func main() {
	cfg := config.LoadWithPath("config.json")

	registry := schema.NewRegistry()
	if cfg.SchemasDir != "" {
		n, err := registry.LoadDir(cfg.SchemasDir)
		if err != nil {
			log.Fatalf("schema seed load: %v", err)
		}
		fmt.Printf("Loaded %d seed schemas from %s\n", n, cfg.SchemasDir)
	}

	var st store.Store
	if cfg.DBURL != "" {
		db, err := pg.Open(cfg.DBURL)
		if err != nil {
			log.Fatalf("postgres connect: %v", err)
		}
		if err := pg.EnsureTable(context.Background(), db); err != nil {
			log.Fatalf("postgres migrate: %v", err)
		}
		st = pg.NewStore(db)
		fmt.Println("Using Postgres store")
	} else {
		st = store.NewMemStore()
		fmt.Println("Using in-memory store")
	}

	var notifier notify.Notifier = notify.Nop{}
	if cfg.NATSURL != "" {
		n, err := notify.NewNATS(cfg.NATSURL)
		if err != nil {
			// best-effort channel: run without it rather than refuse to start
			slog.Warn("NATS connect failed, events disabled", "error", err)
		} else {
			defer n.Close()
			notifier = n
		}
	}

	metrics := metric.New()
	eng := engine.New(registry, st,
		engine.WithNotifier(notifier),
		engine.WithMetrics(metrics),
	)

	// seed schemas may carry uniqueness rules the store needs as indexes
	for _, sch := range registry.List() {
		if err := eng.EnsureStoreIndexes(context.Background(), sch); err != nil {
			log.Fatalf("index setup for %s: %v", sch.EntityName, err)
		}
	}

	port := cfg.Port
	if p := os.Getenv("PORT"); p != "" {
		port = p
	}
	fmt.Printf("Starting testpool server on :%s...\n", port)
	if err := api.RunServer(":"+port, eng, metrics); err != nil {
		log.Fatalf("server: %v", err)
	}
}
