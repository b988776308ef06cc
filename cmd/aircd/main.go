package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"airc-chat/go-backend/internal/composition/daemon"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	listenAddr := flag.String("listen-addr", "", "HTTP listen address override")
	configPath := flag.String("config", "", "Path to config.yaml (optional)")
	dataDir := flag.String("data-dir", "", "Directory for daemon local data (optional)")
	inMemory := flag.Bool("in-memory", false, "Run with in-memory stores only, nothing persisted")
	transport := flag.String("transport", "", "Network transport override: go-waku | mock")
	flag.Parse()
	if *showVersion {
		fmt.Printf("aircd version=%s commit=%s build_date=%s\n", version, commit, buildDate)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if *transport != "" {
		_ = os.Setenv("AIRC_NETWORK_TRANSPORT", *transport)
	}

	rt, err := daemon.Build(daemon.Options{
		ConfigPath: *configPath,
		DataDir:    *dataDir,
		ListenAddr: *listenAddr,
		Version:    version,
		InMemory:   *inMemory,
	})
	if err != nil {
		log.Fatalf("aircd failed to initialize: %v", err)
	}

	log.Println("aircd starting")
	if err := rt.Run(ctx); err != nil {
		log.Fatalf("aircd failed: %v", err)
	}
	log.Println("aircd stopped")
}
