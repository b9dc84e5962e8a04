package main

import (
	"log"

	"provd/internal/config"
	"provd/internal/infra/db"
	httpinfra "provd/internal/infra/http"
)

func main() {
	cfg := config.FromEnv()

	store, err := db.NewStore(cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("failed to init store: %v", err)
	}

	srv := httpinfra.NewServer(cfg, store)
	if err := srv.Run(); err != nil {
		log.Fatalf("server exited: %v", err)
	}
}
