// Command nvrd is the NVR daemon: it wires every SPEC_FULL.md component
// together and runs until signalled to stop. Top-level wiring order
// (load config, open db, start managers, start HTTP server, wait on
// signal) is grounded on the teacher's main.go and cmd/disk_manager.go.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"nvr-core/bus"
	"nvr-core/camera"
	"nvr-core/config"
	"nvr-core/database"
	"nvr-core/fragmenter"
	"nvr-core/hls"
	"nvr-core/indexwatch"
	"nvr-core/tier"
)

func main() {
	manifestPath := flag.String("manifest", "", "path to manifest.yaml (overrides MANIFEST_PATH env)")
	flag.Parse()

	procCfg := config.LoadProcessConfig()
	if *manifestPath != "" {
		procCfg.ManifestPath = *manifestPath
	}
	config.EnsurePaths(procCfg)

	manifest, err := config.LoadManifest(procCfg.ManifestPath)
	if err != nil {
		log.Fatalf("failed to load manifest: %v", err)
	}

	db, err := database.NewSQLiteDB(procCfg.DatabasePath)
	if err != nil {
		log.Fatalf("failed to initialize database: %v", err)
	}
	defer db.Close()

	b, err := bus.New(bus.Config{Host: procCfg.BusHost, Port: procCfg.BusPort})
	if err != nil {
		log.Fatalf("failed to start event bus: %v", err)
	}
	defer b.Stop()

	tierRoots := make(map[int]string, len(manifest.Tiers))
	for _, t := range manifest.Tiers {
		tierRoots[t.ID] = t.Root
	}

	indexer := indexwatch.NewIndexer(db, b, indexwatch.DefaultPathParser(tierRoots))
	ctx, cancelIndexer := context.WithCancel(context.Background())
	go indexer.Run(ctx)

	var watchers []indexwatch.Watcher
	for _, t := range manifest.Tiers {
		w, err := indexwatch.New(t.Root, t.Poll, time.Second)
		if err != nil {
			log.Fatalf("failed to start watcher for tier %d (%s): %v", t.ID, t.Root, err)
		}
		if err := w.Watch(indexer.Feed()); err != nil {
			log.Fatalf("failed to attach watcher for tier %d: %v", t.ID, err)
		}
		watchers = append(watchers, w)
	}

	fr := fragmenter.New(db, b)
	fragStop := make(chan struct{})
	go fr.Run(fragStop)

	camMgr, err := camera.NewManager(db, b, fr, os.TempDir(), manifest)
	if err != nil {
		log.Fatalf("failed to build camera manager: %v", err)
	}
	if err := camMgr.StartAll(manifest); err != nil {
		log.Fatalf("failed to start cameras: %v", err)
	}

	tierMgr := tier.New(db, b, manifest)
	if err := tierMgr.Start(); err != nil {
		log.Fatalf("failed to start tier manager: %v", err)
	}
	if err := tierMgr.SweepAll(context.Background()); err != nil {
		log.Printf("initial tier sweep reported errors: %v", err)
	}

	handler := hls.NewHandler(db, tierRoots)
	r := gin.Default()
	handler.Register(r)
	r.GET("/api/cameras/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, camMgr.Status())
	})
	srv := &http.Server{Addr: ":" + procCfg.ServerPort, Handler: r}
	go func() {
		log.Printf("[nvrd] HLS server listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HLS server failed: %v", err)
		}
	}()

	waitForShutdown()

	log.Printf("[nvrd] shutting down: stopping cameras")
	camMgr.StopAll()

	log.Printf("[nvrd] shutting down: final fragmenter sweep and tier force-move pass")
	close(fragStop)
	tierMgr.Stop()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[nvrd] HLS server shutdown error: %v", err)
	}

	for _, w := range watchers {
		if err := w.Close(); err != nil {
			log.Printf("[nvrd] watcher close error: %v", err)
		}
	}
	cancelIndexer()

	fmt.Println("nvrd stopped")
}

func waitForShutdown() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("[nvrd] received shutdown signal")
}
