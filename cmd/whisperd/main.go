// Command whisperd runs the Whisper indexing and query service: it
// connects to Postgres and Bitcoin Core, starts the block ingestion
// pipeline, and serves the wire API.
package main

import (
	"context"
	"log"

	"github.com/SakshamSinghal20/Whisper/internal/api"
	"github.com/SakshamSinghal20/Whisper/internal/bitcoin"
	"github.com/SakshamSinghal20/Whisper/internal/blockparser"
	"github.com/SakshamSinghal20/Whisper/internal/config"
	"github.com/SakshamSinghal20/Whisper/internal/ingest"
	"github.com/SakshamSinghal20/Whisper/internal/store"
)

func main() {
	log.Println("Starting Whisper indexing and query service...")

	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	idx, err := store.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("FATAL: failed to connect to index store: %v", err)
	}
	defer idx.Close()
	if err := idx.InitSchema(ctx); err != nil {
		log.Fatalf("FATAL: schema migration failed: %v", err)
	}

	btcClient, err := bitcoin.NewClient(bitcoin.Config{
		Host: cfg.BTCRPCHost,
		User: cfg.BTCRPCUser,
		Pass: cfg.BTCRPCPass,
	})
	if err != nil {
		log.Fatalf("FATAL: failed to connect to Bitcoin RPC: %v", err)
	}
	defer btcClient.Shutdown()

	network, err := btcClient.NetworkName()
	if err != nil {
		log.Printf("[Main] could not resolve network name: %v", err)
		network = "unknown"
	}

	wsHub := api.NewHub()
	go wsHub.Run()

	tip, err := idx.TipHeight(ctx)
	if err != nil {
		log.Fatalf("FATAL: could not read tip height: %v", err)
	}

	source := ingest.NewRPCPollingSource(btcClient, cfg.PollInterval, int64(tip))
	parser := blockparser.New()
	parser.HeightFallback = func(hash [32]byte) (int32, error) {
		return btcClient.HeightByHash(hash)
	}

	ingester := ingest.New(source, parser, idx, wsHub)
	go ingester.Run(ctx)

	var rateLimiter *api.RateLimiter
	if cfg.RateLimitPerMin > 0 {
		rateLimiter = api.NewRateLimiter(cfg.RateLimitPerMin, cfg.RateLimitBurst)
	}

	handler := api.NewAPIHandler(idx, idx, ingester, network, cfg.AllowedOrigins, rateLimiter, cfg.RequestTimeout)
	router := api.SetupRouter(handler, wsHub)

	log.Printf("[Main] serving on :%s (network=%s)", cfg.Port, network)
	if err := router.Run(":" + cfg.Port); err != nil {
		log.Fatalf("FATAL: server exited: %v", err)
	}
}
