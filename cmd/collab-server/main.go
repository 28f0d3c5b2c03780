package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"

	"github.com/tanejaashish/Teleprompter-Pro-sub001/internal/coord"
	"github.com/tanejaashish/Teleprompter-Pro-sub001/internal/limit"
	"github.com/tanejaashish/Teleprompter-Pro-sub001/internal/session"
	"github.com/tanejaashish/Teleprompter-Pro-sub001/internal/store"
	"github.com/tanejaashish/Teleprompter-Pro-sub001/internal/ws"
)

func main() {
	ctx := context.Background()

	docs := openStore(ctx)
	defer docs.Close()

	gate := openGate(ctx)

	registry := session.NewRegistry(docs)
	coordinator := coord.New(registry, docs)
	hub := ws.NewHub()
	go hub.Run(ctx)

	server := ws.NewServer(hub, coordinator, gate, ws.NewDocumentSyncHandler(docs))
	router := mux.NewRouter()
	server.RegisterRoutes(router)

	addr := ":8081"
	if port := os.Getenv("PORT"); port != "" {
		addr = ":" + port
	}
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	log.Printf("collab server starting on %s", addr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server error: %v", err)
	}
}

// openStore picks Postgres when DATABASE_URL is set, otherwise a local
// sqlite file, so a single box runs without external services.
func openStore(ctx context.Context) store.DocumentStore {
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		pg, err := store.OpenPostgres(ctx, dbURL)
		if err != nil {
			log.Fatalf("unable to connect to database: %v", err)
		}
		if err := pg.Init(ctx); err != nil {
			log.Fatalf("init database: %v", err)
		}
		log.Println("connected to PostgreSQL")
		return pg
	}

	path := os.Getenv("SQLITE_PATH")
	if path == "" {
		path = "collab.db"
	}
	lite, err := store.OpenSQLite(path)
	if err != nil {
		log.Fatalf("open sqlite store: %v", err)
	}
	if err := lite.Init(ctx); err != nil {
		log.Fatalf("init sqlite store: %v", err)
	}
	log.Printf("using sqlite store at %s", path)
	return lite
}

// openGate connects the redis-backed rate limiter, or allows everything
// when RATE_LIMIT_DISABLED is set.
func openGate(ctx context.Context) limit.Gate {
	if os.Getenv("RATE_LIMIT_DISABLED") != "" {
		log.Println("rate limiting disabled")
		return limit.NopGate{}
	}
	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}
	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	if _, err := rdb.Ping(ctx).Result(); err != nil {
		log.Fatalf("could not connect to redis: %v", err)
	}
	log.Println("connected to redis")
	return limit.NewRedisGate(rdb, 120, time.Minute)
}
