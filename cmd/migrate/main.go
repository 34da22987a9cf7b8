// Command migrate prepares the registry database and the tracking schema
// in every org database under the data directory. Run it after deploying
// a new org database or a schema change.
//
//	migrate [data-dir]        ensure schemas (default dir: data, or DATA_DIR)
//	migrate --list [data-dir] print the tables in every store
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/maxretain/lifecycle-mailer/internal/orgs"
	"github.com/maxretain/lifecycle-mailer/internal/tracking"
)

func main() {
	dataDir := os.Getenv("DATA_DIR")
	if dataDir == "" {
		dataDir = "data"
	}
	listOnly := false
	for _, a := range os.Args[1:] {
		if a == "--list" {
			listOnly = true
		} else {
			dataDir = a
		}
	}

	// Open ensures the registry schema as a side effect.
	m, err := orgs.Open(dataDir)
	if err != nil {
		log.Fatalf("open data dir %s: %v", dataDir, err)
	}
	defer m.Close()
	log.Printf("Registry ready: %s", filepath.Join(dataDir, "main.db"))

	ids, err := m.OrgIDs()
	if err != nil {
		log.Fatalf("scan org databases: %v", err)
	}
	if len(ids) == 0 {
		log.Printf("No org databases under %s yet", filepath.Join(dataDir, "org_dbs"))
	}

	if listOnly {
		fmt.Println("main.db:")
		printTables(m.Main())
		for _, id := range ids {
			db, err := m.ForOrg(id)
			if err != nil {
				log.Printf("org-%d.db: %v", id, err)
				continue
			}
			fmt.Printf("org-%d.db:\n", id)
			printTables(db)
		}
		return
	}

	ctx := context.Background()
	var okCount, errCount int
	for _, id := range ids {
		fmt.Printf("  org-%d.db ... ", id)
		db, err := m.ForOrg(id)
		if err != nil {
			fmt.Printf("ERROR: %v\n", err)
			errCount++
			continue
		}
		if err := tracking.NewStore(db, id).EnsureSchema(ctx); err != nil {
			fmt.Printf("ERROR: %v\n", err)
			errCount++
			continue
		}
		fmt.Println("OK")
		okCount++
	}
	log.Printf("Done: %d OK, %d errors", okCount, errCount)
	if errCount > 0 {
		os.Exit(1)
	}
}

func printTables(db *sql.DB) {
	rows, err := db.Query(`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
	if err != nil {
		log.Printf("  query tables: %v", err)
		return
	}
	defer rows.Close()
	n := 0
	for rows.Next() {
		var t string
		rows.Scan(&t)
		fmt.Println("   ", t)
		n++
	}
	fmt.Printf("  Total: %d tables\n", n)
}
