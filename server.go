package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"gorm.io/gorm"

	"github.com/fiscaldata/reconciler_backend/config"
	"github.com/fiscaldata/reconciler_backend/erpsync"
	"github.com/fiscaldata/reconciler_backend/eventlog"
	"github.com/fiscaldata/reconciler_backend/ingest"
	"github.com/fiscaldata/reconciler_backend/jobs"
	"github.com/fiscaldata/reconciler_backend/models"
	"github.com/fiscaldata/reconciler_backend/scheduler"
	"github.com/fiscaldata/reconciler_backend/workflow"
)

const defaultPort = "8080"

var tracer = otel.Tracer("reconciler-backend")

// traceRequests opens one span per request so handler time shows up next
// to the otelgorm query spans.
func traceRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		name := c.Request.Method + " " + c.FullPath()
		ctx, span := tracer.Start(c.Request.Context(), name)
		defer span.End()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// appHandle owns everything started in the background: the per-type job
// workers, the scheduler's triggers and the event log's rotation loop.
// Returning it from startup (instead of fire-and-forget goroutines) lets
// shutdown and tests await the whole thing deterministically.
type appHandle struct {
	cancel context.CancelFunc
	wg     sync.WaitGroup
	log    *eventlog.Log
	sched  *scheduler.Service
}

func (h *appHandle) Shutdown() {
	h.sched.Stop()
	h.cancel()
	h.wg.Wait()
	h.log.Stop()
}

// startBackground brings up the event log, one worker per job type
// (concurrency 1 each) and the scheduler with its persisted intent
// restored.
func startBackground(db *gorm.DB, logger *logrus.Logger) *appHandle {
	ctx, cancel := context.WithCancel(context.Background())
	handle := &appHandle{cancel: cancel}

	handle.log = eventlog.NewLog(db, logger)

	workers := []*jobs.Worker{
		jobs.NewWorker(db, logger, handle.log, jobs.TypeReconciliation, workflow.RunReconciliationJob),
		jobs.NewWorker(db, logger, handle.log, jobs.TypeNoMatchSweep, workflow.RunNoMatchSweepJob),
		jobs.NewWorker(db, logger, handle.log, jobs.TypeErpResync, erpsync.RunResyncJob),
	}
	for _, w := range workers {
		w := w
		handle.wg.Add(1)
		go func() {
			defer handle.wg.Done()
			w.Run(ctx)
		}()
	}

	handle.sched = scheduler.New(db, logger, handle.log)
	if err := handle.sched.Restore(); err != nil {
		config.LogError(logger, "server.go", "startBackground", "restoring scheduler state", nil, err)
	}

	return handle
}

func setupRouter(db *gorm.DB, logger *logrus.Logger, handle *appHandle) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(traceRequests())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowHeaders = append(corsConfig.AllowHeaders, "Authorization")
	router.Use(cors.New(corsConfig))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.POST("/documents/batch", ingest.InsertBatchHandler(db, logger))
	router.POST("/documents/import", ingest.ImportSpreadsheetHandler(db, logger))

	router.POST("/reconciliation/start", jobs.StartReconciliationHandler(db, logger))
	router.GET("/reconciliation/status/:jobId", jobs.JobStatusHandler(db, logger))
	router.DELETE("/reconciliation/jobs/:jobId", jobs.CancelJobHandler(db, logger))
	router.POST("/reconciliation/no-match-sweep", jobs.NoMatchSweepHandler(db, logger))

	router.GET("/scheduler/config", scheduler.GetConfigHandler(handle.sched))
	router.POST("/scheduler/config", scheduler.SetConfigHandler(handle.sched))

	router.GET("/logs", eventlog.QueryHandler(handle.log))
	router.GET("/logs/stream", eventlog.StreamHandler(handle.log))

	return router
}

func main() {
	logger := config.GetLogger()

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	db := config.GetDB()
	models.MigrateTable(db)

	handle := startBackground(db, logger)

	port := os.Getenv("PORT")
	if port == "" {
		port = defaultPort
	}
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: setupRouter(db, logger, handle),
	}

	go func() {
		log.Printf("listening on :%s", port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http server: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	log.Println("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown: %v", err)
	}
	handle.Shutdown()
}
