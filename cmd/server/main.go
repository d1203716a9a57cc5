package main

import (
	"context"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/manpreetbhatti/classboard/internal/api"
	"github.com/manpreetbhatti/classboard/internal/compaction"
	"github.com/manpreetbhatti/classboard/internal/config"
	"github.com/manpreetbhatti/classboard/internal/db"
	"github.com/manpreetbhatti/classboard/internal/discovery"
	"github.com/manpreetbhatti/classboard/internal/logger"
	"github.com/manpreetbhatti/classboard/internal/monitor"
	"github.com/manpreetbhatti/classboard/internal/ws"
)

func main() {
	conf, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	host, _ := os.Hostname()
	std := log.New(os.Stdout, "[classboard] ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)
	appLog := logger.NewRollbarLogger(std, logger.Options{
		Token:       conf.RollbarToken,
		Environment: conf.Env,
		Host:        host,
		Debug:       conf.Debug,
	})
	defer appLog.Close()

	database, err := db.New(conf.DBPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer database.Close()

	mon := monitor.New(10 * time.Second)
	mon.Start()
	defer mon.Stop()

	hub := ws.NewHub(ws.Options{
		MessagesPerSecond: conf.MessagesPerSecond,
		MessageBurst:      conf.MessageBurst,
		Recorder:          mon,
	})
	go hub.Run()
	defer hub.Stop()

	compactor := compaction.New(database, compaction.Config{
		Interval:     conf.CompactionInterval,
		KeepSnapshot: conf.SnapshotKeep,
	})
	compactor.Start()
	defer compactor.Stop()

	if conf.MDNSEnabled {
		if adv := advertise(conf.Addr, appLog); adv != nil {
			defer adv.Shutdown()
		}
	}

	e := api.New(hub, database, mon, api.Options{
		UploadDir:      conf.UploadDir,
		PublicURL:      conf.PublicURL,
		MaxUploadBytes: conf.MaxUploadBytes,
		Debug:          conf.Debug,
	}, appLog).Echo()

	srv := &http.Server{Addr: conf.Addr, Handler: e}

	log.Printf("🧑‍🏫 Classboard server starting on %s", conf.Addr)
	log.Printf("📁 Database: %s", conf.DBPath)
	log.Println("Endpoints:")
	log.Println("  - WebSocket:    /ws?session={sessionId}&user={identity}")
	log.Println("  - Health:       GET /health")
	log.Println("  - Stats:        GET /api/stats")
	log.Println("  - Sessions:     GET/POST /api/sessions")
	log.Println("  - Session:      GET/DELETE /api/sessions/{id}")
	log.Println("  - Participants: GET/POST /api/sessions/{id}/participants")
	log.Println("  - Can draw:     PUT /api/sessions/{id}/participants/{identity}/can-draw")
	log.Println("  - Presence:     POST /api/sessions/{id}/presence")
	log.Println("  - Snapshots:    GET/POST /api/sessions/{id}/snapshots")
	log.Println("  - PDF:          GET /api/sessions/{id}/snapshots/pdf")
	log.Println("  - Uploads:      GET/POST /api/sessions/{id}/uploads")

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("ListenAndServe: ", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		appLog.Error("server shutdown", err)
	}
}

func advertise(addr string, log logger.Logger) *discovery.Advertiser {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		log.Warn("mdns: bad listen address", err)
		return nil
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		log.Warn("mdns: bad port", err)
		return nil
	}

	instance, _ := os.Hostname()
	adv, err := discovery.Advertise(instance, port, "path=/ws")
	if err != nil {
		log.Warn("mdns: advertise failed", err)
		return nil
	}
	log.Info("mdns: advertising " + discovery.ServiceType)
	return adv
}
