package main

import (
	"context"
	"flag"
	"log"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/amanullahtanweer/realtime-transcriber/internal/config"
	"github.com/amanullahtanweer/realtime-transcriber/internal/metrics"
	"github.com/amanullahtanweer/realtime-transcriber/internal/server"
	"github.com/amanullahtanweer/realtime-transcriber/internal/session"
	"github.com/amanullahtanweer/realtime-transcriber/internal/store"
	"github.com/amanullahtanweer/realtime-transcriber/internal/transcriber"
)

func main() {
	var configFile, envFile string
	flag.StringVar(&configFile, "config", "config.yaml", "Configuration file path")
	flag.StringVar(&envFile, "env", ".env", "Environment file path")
	flag.Parse()

	cfg, err := config.Load(configFile, envFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Transcription.APIKey == "" {
		log.Printf("Warning: no API key configured, set %s; sessions will fail to start", config.EnvAPIKey)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	backend := &server.Backend{
		Transcription: cfg.Transcription,
		NewClient: session.RealtimeFactory(transcriber.RealtimeConfig{
			URL:          cfg.Transcription.URL,
			Model:        cfg.Transcription.Model,
			Dial:         transcriber.WebsocketDialer(nil),
			WriteTimeout: cfg.Transcription.GetWriteTimeout(),
			FinalGrace:   cfg.Transcription.GetFinalGrace(),
		}),
		Collectors: metrics.NewCollectors(reg),
		SaveAudio:  cfg.Storage.SaveAudio,
	}

	if cfg.Storage.SessionLogs {
		backend.LogDir = filepath.Join(cfg.Storage.OutputDir, "sessions")
	}
	if cfg.Storage.SaveTranscripts || cfg.Storage.SaveAudio {
		fs, err := store.NewFileStore(cfg.Storage.OutputDir)
		if err != nil {
			log.Fatalf("Failed to create transcript store: %v", err)
		}
		backend.Stores = append(backend.Stores, fs)
	}
	if cfg.Storage.RedisURL != "" {
		rs, err := store.NewRedisStoreFromURL(cfg.Storage.RedisURL, cfg.Storage.RedisPrefix, cfg.Storage.RedisChannel, cfg.Storage.GetRedisTTL())
		if err != nil {
			log.Fatalf("Failed to create redis store: %v", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := rs.Ping(ctx); err != nil {
			log.Printf("Warning: redis not reachable: %v", err)
		}
		cancel()
		defer rs.Close()
		backend.Stores = append(backend.Stores, rs)
	}

	var audioSocket *server.AudioSocketServer
	if cfg.Server.Enabled {
		audioSocket = server.New(server.Config{Host: cfg.Server.Host, Port: cfg.Server.Port}, backend)
		go func() {
			if err := audioSocket.Start(); err != nil {
				log.Fatalf("Server error: %v", err)
			}
		}()
	}

	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		httpServer = server.NewHTTPServer(backend, reg)
		go func() {
			addr := net.JoinHostPort(cfg.HTTP.Address, strconv.Itoa(cfg.HTTP.Port))
			if err := httpServer.Listen(addr); err != nil {
				log.Fatalf("HTTP server error: %v", err)
			}
		}()
	}

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down server...")
	if httpServer != nil {
		if err := httpServer.Shutdown(); err != nil {
			log.Printf("HTTP shutdown error: %v", err)
		}
	}
	if audioSocket != nil {
		audioSocket.Stop()
	}
}
