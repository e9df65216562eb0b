package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/speckit/taskbridge/internal/config"
	"github.com/speckit/taskbridge/internal/github"
	"github.com/speckit/taskbridge/internal/server"
	"github.com/speckit/taskbridge/internal/web"
)

const version = "v1.0.0"

var loadDotEnv = godotenv.Load

func main() {
	// Load .env file (ignore error if file doesn't exist)
	_ = loadDotEnv()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[MCP GitHub Server] Invalid configuration: %v", err)
	}

	log.Printf("[MCP GitHub Server] Starting %s %s", cfg.ServerName, version)
	log.Printf("[MCP GitHub Server] Auth type: %s", cfg.AuthType)
	if cfg.DefaultRepository != "" {
		log.Printf("[MCP GitHub Server] Default repository: %s", cfg.DefaultRepository)
	}

	cred, err := github.CredentialFromConfig(cfg)
	if err != nil {
		log.Fatalf("[MCP GitHub Server] Invalid credentials: %v", err)
	}

	// One-time identity check; a dead credential aborts startup.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	strategy := &github.Strategy{}
	handle, err := strategy.Authenticate(ctx, cred)
	if err != nil {
		log.Fatalf("[MCP GitHub Server] Authentication failed: %v", err)
	}

	client := github.NewClient(handle, cfg)
	conv := github.NewConverter(client)
	srv := server.New(cfg, client, conv)

	mcpServer := mcp.NewServer(&mcp.Implementation{
		Name:    cfg.ServerName,
		Version: version,
	}, nil)
	registerTools(mcpServer, &Tools{srv: srv})

	// Optional HTTP transport over the same operations.
	if cfg.HTTPAddr != "" {
		reg := server.NewRegistry()
		srv.RegisterAll(reg)

		router := mux.NewRouter()
		web.NewHandler(reg).RegisterRoutes(router)

		go func() {
			log.Printf("[MCP GitHub Server] HTTP transport listening on %s", cfg.HTTPAddr)
			if err := http.ListenAndServe(cfg.HTTPAddr, router); err != nil {
				log.Printf("[MCP GitHub Server] HTTP transport stopped: %v", err)
			}
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Println("[MCP GitHub Server] Received shutdown signal")
		cancel()
	}()

	log.Println("[MCP GitHub Server] Starting on stdio transport...")
	if err := mcpServer.Run(ctx, &mcp.StdioTransport{}); err != nil {
		log.Fatalf("[MCP GitHub Server] Server error: %v", err)
	}
	log.Println("[MCP GitHub Server] Server stopped gracefully")
}
