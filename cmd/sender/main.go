// Command sender drains a tracking batch through the provider from the
// command line, one chunk at a time.
//
// Usage:
//
//	# One chunk of 25:
//	sender -batch batch_3f2a9c81d4_20250825_143015
//
//	# Keep going until the batch is drained:
//	sender -batch batch_3f2a9c81d4_20250825_143015 -loop -chunk 50
//
//	# Re-send failed rows:
//	sender -batch batch_3f2a9c81d4_20250825_143015 -retry
//
//	# Just show where the batch stands:
//	sender -batch batch_3f2a9c81d4_20250825_143015 -status
//
// Sends obey the same gates as the server: EMAIL_DRY_RUN (on by default),
// TEST_EMAIL_SENDING and PRODUCTION_EMAIL_SENDING.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/maxretain/lifecycle-mailer/internal/config"
	"github.com/maxretain/lifecycle-mailer/internal/orgs"
	"github.com/maxretain/lifecycle-mailer/internal/provider"
	"github.com/maxretain/lifecycle-mailer/internal/quote"
	"github.com/maxretain/lifecycle-mailer/internal/sender"
	"github.com/maxretain/lifecycle-mailer/internal/templates"
	"github.com/maxretain/lifecycle-mailer/internal/tracking"
)

// loopPause separates chunks in -loop mode so a big batch does not hammer
// the provider in one burst.
const loopPause = 2 * time.Second

func main() {
	batchID := flag.String("batch", "", "batch id to process (required)")
	chunk := flag.Int("chunk", 25, "rows per chunk")
	retry := flag.Bool("retry", false, "re-send failed rows instead of pending ones")
	loop := flag.Bool("loop", false, "process chunks until the batch is drained")
	statusOnly := flag.Bool("status", false, "print batch status and exit")
	flag.Parse()

	if *batchID == "" {
		flag.Usage()
		log.Fatal("-batch is required")
	}

	cfg, err := config.LoadFromEnv("config/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	manager, err := orgs.Open(cfg.Storage.DataDir)
	if err != nil {
		log.Fatalf("Failed to open org storage at %s: %v", cfg.Storage.DataDir, err)
	}
	defer manager.Close()

	ctx := context.Background()
	orgID, found, err := manager.ScanForBatch(ctx, *batchID)
	if err != nil {
		log.Fatalf("Failed to locate batch: %v", err)
	}
	if !found {
		log.Fatalf("batch %s not found in any org database", *batchID)
	}

	db, err := manager.ForOrg(orgID)
	if err != nil {
		log.Fatalf("Failed to open org %d database: %v", orgID, err)
	}
	store := tracking.NewStore(db, orgID)

	if *statusOnly {
		printStatus(ctx, store, orgID, *batchID)
		return
	}

	if config.DryRun() {
		log.Println("EMAIL_DRY_RUN is on: rows will be marked sent without calling the provider")
	}

	renderer := templates.Default()
	if cfg.Templates.Dir != "" {
		renderer, err = templates.New(cfg.Templates.Dir)
		if err != nil {
			log.Fatalf("Failed to load templates from %s: %v", cfg.Templates.Dir, err)
		}
	}
	if err := renderer.Validate(); err != nil {
		log.Fatalf("Template validation FAILED: %v", err)
	}

	org := templates.DefaultOrganization()
	if reg, ok, err := manager.GetOrganization(ctx, orgID); err == nil && ok && reg.Name != "" {
		org.Name = reg.Name
	}

	exec := sender.New(sender.Config{
		Store:    store,
		Contacts: db,
		Mailer: provider.NewSendGrid(provider.Config{
			APIKey:    cfg.SendGrid.APIKey,
			FromEmail: cfg.SendGrid.FromEmail,
			FromName:  cfg.SendGrid.FromName,
			BaseURL:   cfg.SendGrid.BaseURL,
			Timeout:   cfg.SendGrid.Timeout(),
		}),
		Renderer: renderer,
		Signer:   quote.New(cfg.Quote.BaseURL, cfg.Quote.Secret),
		Org:      org,
	})

	switch {
	case *retry:
		res, err := exec.RetryFailed(ctx, *batchID, *chunk)
		if err != nil {
			log.Fatalf("Retry failed: %v", err)
		}
		printChunk(res)
	case *loop:
		for {
			res, err := exec.ProcessChunk(ctx, *batchID, *chunk)
			if err != nil {
				log.Fatalf("Chunk failed: %v", err)
			}
			printChunk(res)
			if res.Remaining == 0 {
				break
			}
			time.Sleep(loopPause)
		}
	default:
		res, err := exec.ProcessChunk(ctx, *batchID, *chunk)
		if err != nil {
			log.Fatalf("Chunk failed: %v", err)
		}
		printChunk(res)
	}

	printStatus(ctx, store, orgID, *batchID)
}

func printChunk(res sender.ChunkResult) {
	fmt.Printf("chunk: processed %d, sent %d, failed %d, remaining %d\n",
		res.Processed, res.Sent, res.Failed, res.Remaining)
	for _, e := range res.Errors {
		fmt.Printf("  error: %s\n", e)
	}
}

func printStatus(ctx context.Context, store *tracking.Store, orgID int64, batchID string) {
	b, ok, err := store.BatchStatus(ctx, batchID)
	if err != nil {
		log.Fatalf("Failed to read batch status: %v", err)
	}
	if !ok {
		log.Fatalf("batch %s has no rows", batchID)
	}

	fmt.Printf("\nBatch %s (org %d)\n", b.BatchID, orgID)
	mode := b.SendMode
	if b.TestEmail != "" {
		mode += " -> " + b.TestEmail
	}
	fmt.Printf("  mode:      %s\n", mode)
	fmt.Printf("  rows:      %d total | %d pending | %d processing | %d failed | %d skipped\n",
		b.Total, b.Pending, b.Processing, b.Failed, b.Skipped)
	fmt.Printf("  delivery:  %d accepted | %d sent | %d delivered | %d deferred | %d bounced | %d dropped\n",
		b.Accepted, b.Sent, b.Delivered, b.Deferred, b.Bounced, b.Dropped)
	fmt.Printf("  progress:  %.1f%% complete, %.1f%% delivered", b.CompletionPercentage(), b.DeliveryPercentage())
	if b.IsComplete() {
		fmt.Print("  [complete]")
	}
	fmt.Println()
}
