// Package main audits ledger sums and optionally corrects negative balances.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sasha9954/photostudio-core/internal/config"
	"github.com/sasha9954/photostudio-core/internal/logging"
	"github.com/sasha9954/photostudio-core/internal/models"
	"github.com/sasha9954/photostudio-core/internal/service"
	"github.com/sasha9954/photostudio-core/internal/storage"
)

type report struct {
	Accounts int                      `json:"accounts"`
	Negative []*models.AccountBalance `json:"negative"`
	Repaired int64                    `json:"repaired"`
}

func main() {
	accountFlag := flag.String("account", "", "Check a single account (optional)")
	repairFlag := flag.Bool("repair", false, "Write AUTO_CORRECTION entries for negative sums")
	jsonFlag := flag.Bool("json", false, "Print the report as JSON")
	concurrency := flag.Int("concurrency", 4, "Accounts repaired in parallel")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	logging.InitGlobalLogger(logging.ParseLogLevel(cfg.Logging.Level), logging.ParseLogFormat(cfg.Logging.Format))

	store, err := storage.Open(&cfg.Database)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening database: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	balances, err := store.ListAccountBalances(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error listing balances: %v\n", err)
		os.Exit(1)
	}

	rep := report{Negative: []*models.AccountBalance{}}
	for _, b := range balances {
		if *accountFlag != "" && b.AccountID != *accountFlag {
			continue
		}
		rep.Accounts++
		if b.Sum < 0 {
			rep.Negative = append(rep.Negative, b)
		}
	}

	if *repairFlag && len(rep.Negative) > 0 {
		// Balance heals a negative sum inside the account's exclusive transaction
		ledger := service.NewLedgerService(store, nil)
		var repaired atomic.Int64

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(max(*concurrency, 1))
		for _, b := range rep.Negative {
			g.Go(func() error {
				if _, err := ledger.Balance(gctx, b.AccountID); err != nil {
					return fmt.Errorf("repair %s: %w", b.AccountID, err)
				}
				repaired.Add(1)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			fmt.Fprintf(os.Stderr, "Error repairing balances: %v\n", err)
		}
		rep.Repaired = repaired.Load()
	}

	if *jsonFlag {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(rep)
	} else {
		printReport(rep, *repairFlag)
	}

	if len(rep.Negative) > 0 && int64(len(rep.Negative)) != rep.Repaired {
		os.Exit(2)
	}
}

func printReport(rep report, repair bool) {
	fmt.Printf("Checked %d accounts\n", rep.Accounts)
	if len(rep.Negative) == 0 {
		fmt.Println("✅ No negative balances")
		return
	}

	fmt.Printf("❌ %d accounts with a negative sum\n\n", len(rep.Negative))
	fmt.Printf("%-40s %12s %10s\n", "ACCOUNT", "SUM", "ENTRIES")
	for _, b := range rep.Negative {
		fmt.Printf("%-40s %12d %10d\n", b.AccountID, b.Sum, b.Entries)
	}
	if repair {
		fmt.Printf("\nCorrected %d of %d accounts\n", rep.Repaired, len(rep.Negative))
	} else {
		fmt.Println("\nRun with -repair to write AUTO_CORRECTION entries")
	}
}
