// Package main provides the staking ledger operator CLI:
//
//	stakectl report   [flags]  write Markdown and CSV reports
//	stakectl verify   [flags]  check ledger invariants and replay the event journal
//	stakectl scenario [flags]  run the demo scenario against in-memory stores
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"staking-ledger/internal/config"
	"staking-ledger/internal/custody"
	"staking-ledger/internal/domain"
	"staking-ledger/internal/reporting"
	"staking-ledger/internal/storage"
	chstore "staking-ledger/internal/storage/clickhouse"
	pgstore "staking-ledger/internal/storage/postgres"
	"staking-ledger/internal/verification"
)

func main() {
	if err := config.LoadEnvFile(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "Error loading .env: %v\n", err)
		os.Exit(1)
	}

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	ctx := context.Background()
	var err error
	switch os.Args[1] {
	case "report":
		err = runReport(ctx, os.Args[2:])
	case "verify":
		err = runVerify(ctx, os.Args[2:], os.Stdout)
	case "scenario":
		err = runScenarioCmd(ctx, os.Args[2:], os.Stdout)
	case "-h", "--help", "help":
		usage()
		return
	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q\n", os.Args[1])
		usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: stakectl <report|verify|scenario> [flags]")
	fmt.Fprintln(os.Stderr, "Run 'stakectl <command> -h' for command flags.")
}

// stores is what the CLI reads from.
type stores struct {
	ledger  storage.LedgerStore
	custody custody.Ledger
	events  storage.EventStore
	close   func()
}

// openStores connects to the databases, or runs the demo scenario in memory with --use-memory.
func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	if cfg.UseMemory {
		d, err := newDemo(cfg.ProgramID)
		if err != nil {
			return nil, err
		}
		if err := d.run(ctx, io.Discard); err != nil {
			return nil, fmt.Errorf("demo scenario: %w", err)
		}
		return &stores{ledger: d.ledger, custody: d.balances, events: d.events, close: func() {}}, nil
	}

	ledgerPool, err := pgstore.NewPool(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	s := &stores{
		ledger:  pgstore.NewLedgerStore(ledgerPool),
		custody: pgstore.NewBalanceStore(ledgerPool),
	}

	var chConn *chstore.Conn
	if cfg.ClickHouseDSN != "" {
		chConn, err = chstore.NewConn(ctx, cfg.ClickHouseDSN)
		if err != nil {
			ledgerPool.Close()
			return nil, fmt.Errorf("connect to clickhouse: %w", err)
		}
		s.events = chstore.NewEventStore(chConn)
	}

	s.close = func() {
		if chConn != nil {
			chConn.Close()
		}
		ledgerPool.Close()
	}
	return s, nil
}

func parseConfig(name string, args []string, extra func(fs *flag.FlagSet)) (*config.Config, error) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	flags := config.RegisterFlags(fs)
	if extra != nil {
		extra(fs)
	}
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return flags.Config()
}

func runReport(ctx context.Context, args []string) error {
	var outputDir string
	cfg, err := parseConfig("report", args, func(fs *flag.FlagSet) {
		fs.StringVar(&outputDir, "output-dir", "docs", "Output directory for generated files")
	})
	if err != nil {
		return err
	}

	s, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.close()

	gen := reporting.NewGenerator(s.ledger).WithVerifier(
		verification.NewVerifier(s.ledger).WithCustody(s.custody).WithProgramID(cfg.ProgramID),
	)
	if cfg.UseMemory {
		// Demo output is deterministic.
		gen = gen.WithClock(func() time.Time { return time.Unix(demoEnd, 0).UTC() })
	}

	report, err := gen.Generate(ctx)
	if err != nil {
		return fmt.Errorf("generate report: %w", err)
	}

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	files := map[string]string{
		"STAKING_REPORT.md": reporting.RenderMarkdown(report),
		"POOLS.csv":         reporting.RenderPoolsCSV(report.Pools),
		"POSITIONS.csv":     reporting.RenderPositionsCSV(report.Positions),
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(outputDir, name), []byte(content), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
	}

	fmt.Println("Staking report generated successfully:")
	fmt.Printf("  - %s/STAKING_REPORT.md\n", outputDir)
	fmt.Printf("  - %s/POOLS.csv\n", outputDir)
	fmt.Printf("  - %s/POSITIONS.csv\n", outputDir)
	return nil
}

func runVerify(ctx context.Context, args []string, out io.Writer) error {
	cfg, err := parseConfig("verify", args, nil)
	if err != nil {
		return err
	}

	s, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.close()

	verifier := verification.NewVerifier(s.ledger).WithCustody(s.custody).WithProgramID(cfg.ProgramID)
	if cfg.UseMemory {
		verifier = verifier.WithClock(func() time.Time { return time.Unix(demoEnd, 0) })
	}
	return verify(ctx, verifier, s, out)
}

// verify prints invariant and journal results and fails if any pool diverges.
func verify(ctx context.Context, verifier *verification.Verifier, s *stores, out io.Writer) error {
	logger := log.New(out, "", 0)

	report, err := verifier.VerifyAll(ctx)
	if err != nil {
		return fmt.Errorf("verify: %w", err)
	}
	for _, res := range report.Results {
		status := "OK"
		if !res.OK {
			status = "FAIL"
		}
		logger.Printf("pool %d: %s (%d positions, %d active)", res.PoolID, status, res.Positions, res.Active)
		for _, v := range res.Violations {
			logger.Printf("  - %s", v)
		}
	}
	logger.Printf("invariants: %d pools, %d passed, %d failed", report.TotalPools, report.PassedPools, report.FailedPools)

	failed := report.FailedPools
	if s.events != nil {
		results, err := verification.NewReplayVerifier(s.ledger, s.events).VerifyAll(ctx)
		if err != nil {
			return fmt.Errorf("replay: %w", err)
		}
		for _, res := range results {
			if res.Match {
				logger.Printf("journal pool %d: OK (%d events)", res.PoolID, res.Events)
				continue
			}
			failed++
			logger.Printf("journal pool %d: DIVERGED (%d events)", res.PoolID, res.Events)
			for _, d := range res.Divergences {
				logger.Printf("  - %s: ledger=%d journal=%d", d.Field, d.Expected, d.Actual)
			}
		}
	} else {
		logger.Printf("journal: skipped (no event store)")
	}

	if failed > 0 {
		return fmt.Errorf("%d verification failures", failed)
	}
	return nil
}

func runScenarioCmd(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("scenario", flag.ExitOnError)
	programID := fs.String("program-id", config.DefaultProgramID, "Program id that pool addresses derive from (base58)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	pid, err := domain.ParsePubkey(*programID)
	if err != nil {
		return fmt.Errorf("--program-id: %w", err)
	}

	d, err := newDemo(pid)
	if err != nil {
		return err
	}
	if err := d.run(ctx, out); err != nil {
		return err
	}

	s := &stores{ledger: d.ledger, custody: d.balances, events: d.events, close: func() {}}
	verifier := verification.NewVerifier(d.ledger).WithCustody(d.balances).WithProgramID(pid).WithClock(d.clock.Now)
	return verify(ctx, verifier, s, out)
}
