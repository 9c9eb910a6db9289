package main

import (
	"context"
	"log"
	"time"

	"github.com/deceptly/honeypot/internal/config"
	"github.com/deceptly/honeypot/internal/db"
	"github.com/deceptly/honeypot/internal/honeypot"
	"github.com/deceptly/honeypot/internal/httpapi"
	"github.com/deceptly/honeypot/internal/store/rabbitmq"
	"github.com/deceptly/honeypot/internal/store/redisstore"
)

func main() {
	cfg := config.Load()

	gdb, err := db.Connect(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}

	var locker honeypot.SessionLocker
	rds := redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	if err := rds.Ping(pingCtx); err != nil {
		log.Printf("redis unavailable, session locking is in-process only: %v", err)
	} else {
		locker = rds
	}
	cancel()

	pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
	if err != nil {
		log.Printf("rabbit unavailable, async turn path disabled: %v", err)
		pub = nil
	} else {
		defer pub.Close()
	}

	router := httpapi.NewRouter(gdb, cfg, locker, pub)

	log.Printf("server listening addr=%s provider=%s db=%s", cfg.ListenAddr, cfg.AIProvider, cfg.DBDriver)
	if err := router.Run(cfg.ListenAddr); err != nil {
		log.Fatalf("server stopped: %v", err)
	}
}
