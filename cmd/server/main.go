package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/sechat/sechat-node/pkg/api"
	"github.com/sechat/sechat-node/pkg/network"
	"github.com/sechat/sechat-node/pkg/storage"
)

const (
	defaultTCPPort   = 5556
	defaultAudioPort = 5557
	defaultVideoPort = 5558
	defaultAPIPort   = 8080
	defaultDBPath    = "./data/chat.db"
)

var (
	tcpPort    = flag.Int("tcp", defaultTCPPort, "Control channel TCP port")
	audioPort  = flag.Int("audio", defaultAudioPort, "Audio relay UDP port")
	videoPort  = flag.Int("video", defaultVideoPort, "Video relay UDP port")
	apiPort    = flag.Int("api", defaultAPIPort, "Status API HTTP port (0 to disable)")
	dbPath     = flag.String("db", defaultDBPath, "Path to the chat database")
	passphrase = flag.String("passphrase", "", "Store encryption passphrase (required)")
)

func main() {
	flag.Parse()

	printBanner()

	if *passphrase == "" {
		log.Fatal("Error: -passphrase flag is required (store encryption passphrase)")
	}

	if err := os.MkdirAll(filepath.Dir(*dbPath), 0755); err != nil {
		log.Fatalf("Failed to create data directory: %v", err)
	}

	store, err := storage.Open(*dbPath, *passphrase)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer store.Close()
	log.Printf("✓ Database opened at %s", *dbPath)

	cfg := network.DefaultConfig()
	cfg.TCPAddr = fmt.Sprintf(":%d", *tcpPort)
	cfg.AudioAddr = fmt.Sprintf(":%d", *audioPort)
	cfg.VideoAddr = fmt.Sprintf(":%d", *videoPort)

	server := network.NewServer(store, cfg)
	if err := server.Start(); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
	log.Printf("✓ Control: %d, Audio: %d, Video: %d", *tcpPort, *audioPort, *videoPort)

	var statusAPI *api.Server
	if *apiPort > 0 {
		statusAPI = api.NewServer(server, store, fmt.Sprintf(":%d", *apiPort))
		if err := statusAPI.Start(); err != nil {
			log.Fatalf("Failed to start status API: %v", err)
		}
		log.Printf("✓ Status API on port %d", *apiPort)
	}

	log.Println("[SERVER] Ready for connections")

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("[SERVER] Shutting down...")
	if statusAPI != nil {
		statusAPI.Stop()
	}
	server.Stop()
}

func printBanner() {
	fmt.Println("╔═══════════════════════════════════════════════════╗")
	fmt.Println("║              SeChat Server v1.0                   ║")
	fmt.Println("║   Encrypted chat, groups, calls, file sharing     ║")
	fmt.Println("╚═══════════════════════════════════════════════════╝")
	fmt.Println()
}
