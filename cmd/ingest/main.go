// Command ingest runs the upload pipeline locally against one or more CSV
// files, without the HTTP server. Useful for checking how a statement
// normalizes and fingerprints before uploading it for real.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/finfolio-app/finfolio/internal/dedup"
	"github.com/finfolio-app/finfolio/internal/docstore"
	"github.com/finfolio-app/finfolio/internal/docstore/firestoredb"
	"github.com/finfolio-app/finfolio/internal/docstore/memory"
	"github.com/finfolio-app/finfolio/internal/ingest"
	"github.com/finfolio-app/finfolio/internal/logger"
	"github.com/finfolio-app/finfolio/internal/team"
)

func main() {
	log := logger.New()

	userID := flag.String("user", "local", "owner user ID for the ingested rows")
	projectID := flag.String("project", "", "GCP project ID; set to ingest into Firestore instead of a throwaway in-memory store")
	force := flag.Bool("force", false, "reprocess even if the batch content was seen before")
	flag.Parse()

	if flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "Usage: ingest [flags] <file.csv> [file.csv ...]")
		flag.PrintDefaults()
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	var store docstore.Store
	if *projectID != "" {
		fs, err := firestoredb.NewStore(ctx, *projectID)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create Firestore store")
		}
		defer fs.Close()
		store = fs
	} else {
		store = memory.NewStore()
	}

	teams := team.NewService(store, log)
	dedupSvc := dedup.NewService(store, teams, log)
	svc := ingest.NewService(store, dedupSvc, teams, nil, nil, log)

	req := &ingest.UploadRequest{UserID: *userID, Force: *force}
	for _, path := range flag.Args() {
		data, err := os.ReadFile(path)
		if err != nil {
			log.Fatal().Err(err).Str("file", path).Msg("Failed to read file")
		}
		req.Files = append(req.Files, ingest.UploadFile{Name: path, Data: data})
	}

	result, err := svc.ProcessUpload(ctx, req)
	if err != nil {
		log.Fatal().Err(err).Msg("Ingestion failed")
	}

	if result.Duplicate != nil {
		log.Info().
			Str("batch_id", result.Duplicate.BatchID).
			Time("uploaded_at", result.Duplicate.CreatedAt).
			Msg("Content already ingested; use -force to reprocess")
		return
	}

	log.Info().
		Str("batch_id", result.Batch.ID).
		Str("content_signature", result.Batch.ContentSignature).
		Int("inserted", result.Inserted).
		Int("skipped_rows", result.SkippedRows).
		Int("skipped_duplicates", result.SkippedDup).
		Msg("Ingestion completed")

	out, err := json.MarshalIndent(result.Summary, "", "  ")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to render summary")
	}
	fmt.Println(string(out))
}
