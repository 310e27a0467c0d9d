// Command analyticsd runs the real-time analytics service: the Stream
// Registry, Analytics Store, Push Channel, and the HTTP surface
// (process_frame, start/stop_stream, per-stream query endpoints, and
// the WebSocket push feed).
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/fullscreen-triangle/morphine/internal/config"
	"github.com/fullscreen-triangle/morphine/internal/httpapi"
	"github.com/fullscreen-triangle/morphine/internal/push"
	"github.com/fullscreen-triangle/morphine/internal/pushgrpc"
	"github.com/fullscreen-triangle/morphine/internal/registry"
	"github.com/fullscreen-triangle/morphine/internal/store"
	"github.com/fullscreen-triangle/morphine/internal/timeutil"
	"github.com/fullscreen-triangle/morphine/internal/version"
)

var (
	listen         = flag.String("listen", ":8090", "HTTP listen address")
	settingsFile   = flag.String("settings", "", "optional JSON file of default settings overrides")
	notifyGRPCAddr = flag.String("notify-grpc-addr", "", "address of a downstream gRPC notify consumer (empty disables gRPC notification)")
	coreServiceURL = flag.String("core-service-url", os.Getenv("CORE_SERVICE_URL"), "base URL of the core service; when set, post-store summaries are POSTed to its /analytics/update endpoint")
	sweepInterval  = flag.Duration("sweep-interval", 5*time.Minute, "how often to evict fully-expired streams from the analytics store")
	dbFile         = flag.String("db", "analytics_tombstones.db", "path to the SQLite database used to persist final stream summaries")
	showVersion    = flag.Bool("version", false, "print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("analyticsd %s\n", version.String())
		os.Exit(0)
	}
	log.Printf("[analyticsd] version %s", version.String())

	clock := timeutil.RealClock{}
	reg := registry.New(clock)
	st := store.New(clock)

	var sink push.NotifySink
	switch {
	case *notifyGRPCAddr != "":
		client, err := pushgrpc.Dial(*notifyGRPCAddr)
		if err != nil {
			log.Fatalf("failed to dial notify consumer: %v", err)
		}
		defer client.Close()
		sink = pushgrpc.NotifySink{Client: client}
	case *coreServiceURL != "":
		sink = push.NewHTTPSink(*coreServiceURL + "/analytics/update")
	}
	bc := push.NewBroadcaster(clock, sink)

	tombstones, err := store.OpenTombstoneSink(*dbFile)
	if err != nil {
		log.Fatalf("failed to open tombstone database: %v", err)
	}
	defer tombstones.Close()
	st.SetTombstoneSink(tombstones)

	svc := httpapi.New(reg, st, bc)
	svc.Clock = clock

	if *settingsFile != "" {
		patch, err := config.LoadSettingsFile(*settingsFile)
		if err != nil {
			log.Fatalf("failed to load settings file: %v", err)
		}
		svc.DefaultSettings = svc.DefaultSettings.Apply(*patch)
	}
	if err := svc.DefaultSettings.Validate(); err != nil {
		log.Fatalf("invalid default settings: %v", err)
	}

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := clock.NewTicker(*sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C():
				st.Sweep()
			}
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()

		server := &http.Server{
			Addr:    *listen,
			Handler: httpapi.LoggingMiddleware(svc.ServeMux()),
		}

		go func() {
			log.Printf("[analyticsd] listening on %s", *listen)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("[analyticsd] server error: %v", err)
			}
		}()

		<-ctx.Done()
		log.Println("[analyticsd] shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("[analyticsd] shutdown error: %v", err)
			if err := server.Close(); err != nil {
				log.Printf("[analyticsd] force close error: %v", err)
			}
		}
	}()

	wg.Wait()
	log.Println("[analyticsd] graceful shutdown complete")
}
