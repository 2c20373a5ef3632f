package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hurttlocker/mbsagent/internal/agent"
	"github.com/hurttlocker/mbsagent/internal/catalog"
)

// runDemo seeds a small SQLite catalog (a temp file unless --db is given)
// and runs one note through Smart mode and then the full Deep pipeline
// end to end, so a new user can see results
// within a minute with no external catalog import required.
func runDemo(args []string) error {
	fs := flag.NewFlagSet("demo", flag.ContinueOnError)
	dbPathFlag := fs.String("db", "", "Path to demo SQLite DB (default: temp file)")
	cleanup := fs.Bool("cleanup", false, "Delete the demo DB after completion")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if len(fs.Args()) > 0 {
		return fmt.Errorf("usage: mbsagent demo [--db <path>] [--cleanup]")
	}

	dbPath := strings.TrimSpace(*dbPathFlag)
	if dbPath == "" {
		dbPath = filepath.Join(os.TempDir(), fmt.Sprintf("mbsagent-demo-%d.db", time.Now().UnixNano()))
	}

	fmt.Println("MBS agent demo")
	fmt.Printf("Demo DB: %s\n\n", dbPath)

	oldDBPath := globalDBPath
	globalDBPath = dbPath
	defer func() { globalDBPath = oldDBPath }()

	fmt.Println("Step 1/3: Seed a small demo catalog")
	if err := seedDemoCatalog(dbPath); err != nil {
		if *cleanup {
			_ = cleanupDemoArtifacts(dbPath)
		}
		return fmt.Errorf("demo seeding failed: %w", err)
	}

	fmt.Println("\nStep 2/3: Recommend codes for a sample note (Smart mode)")
	note := "Standard in-person GP consultation, 25 minutes, established patient, review of chronic back pain."
	if err := recommendAndPrint(note, 5, agent.ModeSmart, "smart", false); err != nil {
		return fmt.Errorf("demo smart recommend failed: %w", err)
	}

	fmt.Println("\nStep 3/3: Recommend codes for the same note (Deep mode)")
	if err := recommendAndPrint(note, 5, agent.ModeDeep, "", false); err != nil {
		return fmt.Errorf("demo deep recommend failed: %w", err)
	}

	fmt.Println("\nDemo complete.")
	fmt.Println("Your turn:")
	fmt.Printf("  mbsagent --db %s recommend \"your clinical note\"\n", dbPath)
	fmt.Printf("  mbsagent --db %s query \"consultation\"\n", dbPath)
	if !*cleanup {
		fmt.Printf("\nInspection path (kept): %s\n", dbPath)
		fmt.Println("Use --cleanup to auto-delete this next run.")
	} else {
		if err := cleanupDemoArtifacts(dbPath); err != nil {
			return fmt.Errorf("demo cleanup failed: %w", err)
		}
		fmt.Println("\nTemporary demo DB cleaned up.")
	}

	return nil
}

// seedDemoCatalog populates dbPath with a handful of representative
// professional-attendance items spanning short/standard/long consultations.
func seedDemoCatalog(dbPath string) error {
	store, err := catalog.Open(dbPath, logger())
	if err != nil {
		return err
	}
	defer store.Close()

	fee := func(v float64) *float64 { return &v }
	min := func(v int) *int { return &v }
	items := []catalog.Item{
		{
			Code: "3", Title: "Level A attendance", Group: "A1", Subgroup: "1",
			Description:        "Professional attendance lasting less than 6 minutes for a patient by a general practitioner.",
			Fee:                fee(19.60),
			DurationMaxMinutes: min(6),
		},
		{
			Code: "23", Title: "Level B attendance", Group: "A1", Subgroup: "1",
			Description:        "Professional attendance of at least 6 minutes, not more than 20 minutes, by a general practitioner.",
			Fee:                fee(41.40),
			DurationMinMinutes: min(6),
			DurationMaxMinutes: min(20),
		},
		{
			Code: "36", Title: "Level C attendance", Group: "A1", Subgroup: "1",
			Description:        "Professional attendance of at least 20 minutes, not more than 40 minutes, by a general practitioner, for a patient with at least one chronic or complex condition.",
			Fee:                fee(79.60),
			DurationMinMinutes: min(20),
			DurationMaxMinutes: min(40),
		},
		{
			Code: "44", Title: "Level D attendance", Group: "A1", Subgroup: "1",
			Description:        "Professional attendance of at least 40 minutes by a general practitioner.",
			Fee:                fee(116.90),
			DurationMinMinutes: min(40),
		},
	}

	ctx := context.Background()
	for _, item := range items {
		if err := store.Upsert(ctx, item); err != nil {
			return fmt.Errorf("seeding item %s: %w", item.Code, err)
		}
	}
	return nil
}

func cleanupDemoArtifacts(dbPath string) error {
	paths := []string{dbPath, dbPath + "-wal", dbPath + "-shm"}
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}
