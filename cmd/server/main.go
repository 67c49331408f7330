package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"hlsgrab/internal/jobs"
	"hlsgrab/internal/pipeline"
	"hlsgrab/internal/platform/config"
	"hlsgrab/internal/platform/logger"
	"hlsgrab/internal/platform/metrics"

	"github.com/go-chi/chi/v5"
)

const shutdownTimeout = 10 * time.Second

func main() {
	_ = config.Load()

	port := config.GetEnv("PORT", "8080")
	logLevel := config.GetEnv("LOG_LEVEL", "info")
	logFormat := config.GetEnv("LOG_FORMAT", "json")
	outputDir := config.GetEnv("OUTPUT_DIR", "downloads")

	opts := pipeline.Options{
		Concurrency:    config.GetEnvInt("CONCURRENCY", pipeline.DefaultConcurrency),
		MaxRetries:     config.GetEnvInt("MAX_RETRIES", pipeline.DefaultMaxRetries),
		MaxPartBytes:   config.GetEnvInt64("MAX_PART_BYTES", pipeline.DefaultMaxPartBytes),
		SegmentTimeout: config.GetEnvDurationMs("SEGMENT_TIMEOUT_MS", pipeline.DefaultSegmentTimeout),
		JobTimeout:     config.GetEnvDurationMs("JOB_TIMEOUT_MS", 0),
		VariantPolicy:  pipeline.VariantPolicy(config.GetEnv("VARIANT_POLICY", string(pipeline.VariantDefaultOrHighest))),
		WorkDir:        config.GetEnv("WORK_DIR", ""),
	}
	eventInterval := config.GetEnvDurationMs("EVENT_INTERVAL_MS", jobs.DefaultEventInterval)

	log := logger.New(os.Stdout, logLevel, logFormat)

	met := metrics.New()
	pipe := pipeline.New(opts, log, jobs.PipelineStats(met))
	deliverer := &pipeline.DirDeliverer{Dir: outputDir}
	reg := jobs.NewInMemoryRegistry()
	mgr := jobs.NewManager(reg, pipe, deliverer, log, met, eventInterval)
	h := jobs.NewHandler(mgr, log)

	r := chi.NewRouter()
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		met.Handler(func() { met.SetActiveJobs(mgr.RunningCount()) }).ServeHTTP(w, r)
	})
	r.Route("/jobs", func(r chi.Router) {
		r.Post("/", h.SubmitJob)
		r.Route("/{job_id}", func(r chi.Router) {
			r.Get("/", h.GetJob)
			r.Get("/events", h.GetJobEvents)
			r.Post("/cancel", h.CancelJob)
		})
	})

	addr := ":" + port
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	log.Info("server starting",
		"port", port,
		"output_dir", outputDir,
		"concurrency", opts.Concurrency,
		"max_part_bytes", opts.MaxPartBytes,
		"log_level", logLevel,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("shutdown signal received, draining connections")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("shutdown error", "error", err)
		os.Exit(1)
	}

	log.Info("server stopped")
}
