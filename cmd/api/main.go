package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/finfolio-app/finfolio/internal/api/handlers"
	"github.com/finfolio-app/finfolio/internal/api/middleware"
	"github.com/finfolio-app/finfolio/internal/categorize"
	"github.com/finfolio-app/finfolio/internal/dedup"
	"github.com/finfolio-app/finfolio/internal/docstore"
	"github.com/finfolio-app/finfolio/internal/docstore/firestoredb"
	"github.com/finfolio-app/finfolio/internal/docstore/memory"
	"github.com/finfolio-app/finfolio/internal/ingest"
	"github.com/finfolio-app/finfolio/internal/jobs"
	"github.com/finfolio-app/finfolio/internal/jobs/inmemory"
	"github.com/finfolio-app/finfolio/internal/logger"
	"github.com/finfolio-app/finfolio/internal/team"
	"github.com/finfolio-app/finfolio/internal/uploadstore"
)

func main() {
	// Parse command-line flags
	var (
		port      = flag.String("port", "8080", "HTTP server port")
		backend   = flag.String("store", envOr("STORE_BACKEND", "memory"), "document store backend: memory or firestore")
		projectID = flag.String("project", os.Getenv("GCP_PROJECT"), "GCP project ID for Firestore (or set GCP_PROJECT)")
		bucket    = flag.String("bucket", os.Getenv("GCS_BUCKET"), "GCS bucket for raw upload archiving (or set GCS_BUCKET)")
		aiEnabled = flag.Bool("categorize", os.Getenv("GEMINI_API_KEY") != "", "enable Gemini categorization")
		workers   = flag.Int("workers", 5, "batch processing worker count")
	)
	flag.Parse()

	log := logger.New()
	ctx := context.Background()

	// Document store
	var store docstore.Store
	switch *backend {
	case "firestore":
		if *projectID == "" {
			log.Fatal().Msg("Firestore backend requires -project or GCP_PROJECT")
		}
		fs, err := firestoredb.NewStore(ctx, *projectID)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create Firestore store")
		}
		defer fs.Close()
		store = fs
	case "memory":
		log.Warn().Msg("Using in-memory store - data is lost on restart")
		store = memory.NewStore()
	default:
		log.Fatal().Str("store", *backend).Msg("Unknown store backend")
	}

	// Services
	teams := team.NewService(store, log)
	dedupSvc := dedup.NewService(store, teams, log)

	var archiver ingest.Archiver
	if *bucket != "" {
		arc, err := uploadstore.NewStore(ctx, *bucket)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create upload archive")
		}
		defer arc.Close()
		archiver = arc
	} else {
		log.Warn().Msg("No GCS bucket configured - raw uploads will not be archived")
	}

	var categorizer ingest.Categorizer
	if *aiEnabled {
		cat, err := categorize.NewGemini(ctx, os.Getenv("GEMINI_MODEL"), nil, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create categorizer")
		}
		categorizer = cat
	}

	ingestSvc := ingest.NewService(store, dedupSvc, teams, categorizer, archiver, log)

	// Job infrastructure
	jobStore := inmemory.NewStore()
	jobQueue := inmemory.NewQueue(100, *workers, jobStore)

	workerCtx, cancelWorker := context.WithCancel(ctx)
	defer cancelWorker()

	jobHandler := func(ctx context.Context, job jobs.Job) error {
		batchJob, ok := job.(*jobs.ProcessBatchJob)
		if !ok {
			return fmt.Errorf("unexpected job type: %T", job)
		}

		log.Info().
			Str("job_id", batchJob.JobID).
			Str("batch_id", batchJob.BatchID).
			Int("transactions", len(batchJob.Transactions)).
			Msg("Processing batch job")

		_, err := ingestSvc.ProcessPending(ctx, batchJob.BatchID, batchJob.Transactions, batchJob.Categorize)
		if err != nil {
			log.Error().Err(err).Str("batch_id", batchJob.BatchID).Msg("Batch processing failed")
			return err
		}
		return nil
	}

	go func() {
		log.Info().Int("workers", *workers).Msg("Starting batch workers")
		if err := jobQueue.Start(workerCtx, jobHandler); err != nil {
			log.Error().Err(err).Msg("Batch workers stopped with error")
		}
	}()

	// Handlers
	uploadsHandler := handlers.NewUploadsHandler(ingestSvc, jobQueue, log)
	batchesHandler := handlers.NewBatchesHandler(ingestSvc, log)
	transactionsHandler := handlers.NewTransactionsHandler(ingestSvc, log)
	teamsHandler := handlers.NewTeamsHandler(teams, log)
	jobsHandler := handlers.NewJobsHandler(jobStore, log)

	// Router
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/uploads", uploadsHandler.Upload)

	mux.HandleFunc("GET /api/batches", batchesHandler.ListBatches)
	mux.HandleFunc("GET /api/batches/{id}", batchesHandler.GetBatch)
	mux.HandleFunc("GET /api/batches/{id}/summary", batchesHandler.GetSummary)
	mux.HandleFunc("GET /api/summary", batchesHandler.GetSummary)

	mux.HandleFunc("GET /api/transactions", transactionsHandler.ListTransactions)

	mux.HandleFunc("POST /api/teams", teamsHandler.CreateTeam)
	mux.HandleFunc("GET /api/teams/me", teamsHandler.MyTeam)
	mux.HandleFunc("GET /api/teams/members", teamsHandler.ListMembers)
	mux.HandleFunc("POST /api/teams/join", teamsHandler.JoinTeam)
	mux.HandleFunc("POST /api/teams/leave", teamsHandler.LeaveTeam)
	mux.HandleFunc("PUT /api/teams/members/{userID}/role", teamsHandler.UpdateMemberRole)
	mux.HandleFunc("DELETE /api/teams/members/{userID}", teamsHandler.RemoveMember)
	mux.HandleFunc("POST /api/teams/invites", teamsHandler.CreateInvite)
	mux.HandleFunc("GET /api/teams/invites", teamsHandler.ListInvites)
	mux.HandleFunc("DELETE /api/teams/invites/{code}", teamsHandler.RevokeInvite)
	mux.HandleFunc("GET /api/invites/{code}", teamsHandler.InviteInfo)

	mux.HandleFunc("GET /api/jobs", jobsHandler.ListJobs)
	mux.HandleFunc("GET /api/jobs/{id}", jobsHandler.GetJob)

	// Health check endpoint, outside the identity requirement
	healthMux := http.NewServeMux()
	healthMux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, map[string]string{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})
	healthMux.Handle("/", middleware.Identity(mux))

	// Apply middleware
	handler := middleware.Recovery(log)(
		middleware.Logger(log)(
			middleware.RequestID(
				middleware.CORS(healthMux),
			),
		),
	)

	server := &http.Server{
		Addr:         ":" + *port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("port", *port).Str("store", *backend).Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	cancelWorker()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	// Stop job queue and wait for in-flight jobs
	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error stopping job queue")
	}

	log.Info().Msg("Server exited")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
