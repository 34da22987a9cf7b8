// Command scheduler computes lifecycle email schedules for one org or for
// every org in the registry, prints a per-contact summary, and can export
// the schedule to CSV or seed a tracking batch from it.
//
// Usage:
//
//	# Preview one org's schedule for the next two years:
//	scheduler -org 1
//
//	# Export a schedule window to CSV:
//	scheduler -org 1 -start 2026-01-01 -end 2026-12-31 -csv schedule.csv
//
//	# Seed a test-mode batch of everything due in the next 7 days:
//	scheduler -org 1 -init-batch next_7_days -mode test -test-email qa@maxretain.com
//
// Scopes for -init-batch: today, next_7_days, next_30_days, next_90_days,
// all, bulk (bulk redates every row to today).
package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/maxretain/lifecycle-mailer/internal/config"
	"github.com/maxretain/lifecycle-mailer/internal/contacts"
	"github.com/maxretain/lifecycle-mailer/internal/dates"
	"github.com/maxretain/lifecycle-mailer/internal/orgs"
	"github.com/maxretain/lifecycle-mailer/internal/quote"
	"github.com/maxretain/lifecycle-mailer/internal/rules"
	"github.com/maxretain/lifecycle-mailer/internal/schedule"
	"github.com/maxretain/lifecycle-mailer/internal/tracking"
)

var csvHeader = []string{
	"org_id", "contact_id", "email", "first_name", "last_name",
	"state", "birth_date", "effective_date",
	"email_type", "scheduled_date", "skipped", "reason", "quote_link",
}

func main() {
	orgID := flag.Int64("org", 0, "organization id to schedule")
	allOrgs := flag.Bool("all-orgs", false, "schedule every organization in the registry")
	startArg := flag.String("start", "", "schedule start date YYYY-MM-DD (default today)")
	endArg := flag.String("end", "", "schedule end date YYYY-MM-DD (default start + 2 years)")
	csvOut := flag.String("csv", "", "write the schedule to this CSV file")
	initBatch := flag.String("init-batch", "", "seed a tracking batch with this scope")
	mode := flag.String("mode", tracking.ModeTest, "send mode for -init-batch (test or production)")
	testEmail := flag.String("test-email", "", "recipient override for test-mode batches")
	flag.Parse()

	if *orgID <= 0 && !*allOrgs {
		flag.Usage()
		log.Fatal("either -org or -all-orgs is required")
	}
	if *initBatch != "" && !tracking.ValidScope(*initBatch) {
		log.Fatalf("unknown batch scope %q", *initBatch)
	}

	cfg, err := config.LoadFromEnv("config/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	start, err := parseDay(*startArg, dates.Midnight(time.Now()))
	if err != nil {
		log.Fatalf("bad -start date: %v", err)
	}
	end, err := parseDay(*endArg, start.AddDate(2, 0, 0))
	if err != nil {
		log.Fatalf("bad -end date: %v", err)
	}
	if !end.After(start) {
		log.Fatalf("-end %s must be after -start %s", end.Format("2006-01-02"), start.Format("2006-01-02"))
	}

	manager, err := orgs.Open(cfg.Storage.DataDir)
	if err != nil {
		log.Fatalf("Failed to open org storage at %s: %v", cfg.Storage.DataDir, err)
	}
	defer manager.Close()

	ruleSet := rules.Default()
	if cfg.Rules.Path != "" {
		ruleSet, err = rules.Load(cfg.Rules.Path)
		if err != nil {
			log.Fatalf("Failed to load state rules from %s: %v", cfg.Rules.Path, err)
		}
	}
	engine := schedule.New(ruleSet)
	signer := quote.New(cfg.Quote.BaseURL, cfg.Quote.Secret)

	ctx := context.Background()
	targets := []int64{*orgID}
	if *allOrgs {
		targets, err = manager.OrgIDs()
		if err != nil {
			log.Fatalf("Failed to list organizations: %v", err)
		}
		if len(targets) == 0 {
			log.Fatalf("no org databases found under %s", cfg.Storage.DataDir)
		}
	}

	log.Printf("Scheduling %s to %s for %d org(s)",
		start.Format("2006-01-02"), end.Format("2006-01-02"), len(targets))

	var rows [][]string
	failed := 0
	for _, id := range targets {
		orgRows, err := runOrg(ctx, manager, engine, signer, id, start, end, *initBatch, *mode, *testEmail)
		if err != nil {
			if !*allOrgs {
				log.Fatalf("org %d: %v", id, err)
			}
			log.Printf("org %d: %v (skipping)", id, err)
			failed++
			continue
		}
		rows = append(rows, orgRows...)
	}

	if *csvOut != "" {
		if err := writeCSV(*csvOut, rows); err != nil {
			log.Fatalf("Failed to write CSV: %v", err)
		}
		log.Printf("Wrote %d rows to %s", len(rows), *csvOut)
	}
	if failed > 0 {
		os.Exit(1)
	}
}

func parseDay(s string, fallback time.Time) (time.Time, error) {
	if s == "" {
		return fallback, nil
	}
	return time.Parse("2006-01-02", s)
}

// runOrg schedules one org, prints its summary, optionally seeds a batch,
// and returns the org's CSV rows.
func runOrg(ctx context.Context, manager *orgs.Manager, engine *schedule.Engine, signer *quote.Signer,
	orgID int64, start, end time.Time, initScope, mode, testEmail string) ([][]string, error) {

	name := fmt.Sprintf("org %d", orgID)
	if reg, ok, err := manager.GetOrganization(ctx, orgID); err == nil && ok && reg.Name != "" {
		name = reg.Name
	}

	db, err := manager.ForOrg(orgID)
	if err != nil {
		return nil, err
	}
	all, err := contacts.LoadAll(ctx, db)
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, fmt.Errorf("no contacts found")
	}

	results := engine.ScheduleAll(ctx, all, start, end)

	fmt.Printf("\n%s (org %d): %d contacts\n", name, orgID, len(results))
	totalScheduled, totalSkipped := 0, 0
	for _, res := range results {
		fmt.Printf("  %-12s %-2s  %d scheduled, %d skipped", res.Contact.ID, res.Contact.State,
			len(res.Emails), len(res.Skipped))
		if len(res.Emails) == 0 && len(res.Skipped) > 0 {
			fmt.Printf("  (%s)", res.Skipped[0].Reason)
		}
		fmt.Println()
		totalScheduled += len(res.Emails)
		totalSkipped += len(res.Skipped)
	}
	fmt.Printf("  total: %d scheduled, %d skipped\n", totalScheduled, totalSkipped)

	if initScope != "" {
		store := tracking.NewStore(db, orgID)
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		var planned []tracking.ScheduledRow
		for _, res := range results {
			for _, e := range res.Emails {
				planned = append(planned, tracking.ScheduledRow{
					ContactID: res.Contact.ID,
					EmailType: e.Type,
					Date:      e.Date,
				})
			}
		}
		init, err := store.InitBatch(ctx, initScope, mode, testEmail, planned)
		if err != nil {
			return nil, err
		}
		fmt.Printf("  batch %s: %d rows inserted, %d skipped (scope %s, mode %s)\n",
			init.BatchID, init.Inserted, init.Skipped, initScope, mode)
	}

	return csvRows(orgID, results, signer), nil
}

// csvRows flattens scheduling results, deduplicating repeated entries the
// way the exports downstream expect: scheduled sends by (contact, type,
// date), skips by (contact, type, reason). Skipped rows carry no date or
// link.
func csvRows(orgID int64, results []schedule.Result, signer *quote.Signer) [][]string {
	org := strconv.FormatInt(orgID, 10)
	seen := map[string]bool{}
	var rows [][]string

	day := func(t *time.Time) string {
		if t == nil {
			return ""
		}
		return t.Format("2006-01-02")
	}

	for _, res := range results {
		c := res.Contact
		link := signer.Link(org, c.ID)
		for _, e := range res.Emails {
			date := e.Date.Format("2006-01-02")
			key := c.ID + "|" + e.Type + "|" + date
			if seen[key] {
				continue
			}
			seen[key] = true
			rows = append(rows, []string{
				org, c.ID, c.Email, c.FirstName, c.LastName,
				c.State, day(c.BirthDate), day(c.EffectiveDate),
				e.Type, date, "No", e.Reason, link,
			})
		}
		for _, s := range res.Skipped {
			key := c.ID + "|" + s.Type + "|skip|" + s.Reason
			if seen[key] {
				continue
			}
			seen[key] = true
			rows = append(rows, []string{
				org, c.ID, c.Email, c.FirstName, c.LastName,
				c.State, day(c.BirthDate), day(c.EffectiveDate),
				s.Type, "", "Yes", s.Reason, "",
			})
		}
	}
	return rows
}

func writeCSV(path string, rows [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(csvHeader); err != nil {
		return err
	}
	for _, row := range rows {
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}
