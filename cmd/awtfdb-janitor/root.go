package main

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/awtfdb/internal/janitor"
	"github.com/mesh-intelligence/awtfdb/internal/paths"
	"github.com/mesh-intelligence/awtfdb/internal/sqlite"
	"github.com/mesh-intelligence/awtfdb/pkg/types"
)

const version = "0.3.0"

// Flag values.
var (
	flagDatabase        string
	flagVersion         bool
	flagVerbose         bool
	flagFull            bool
	flagOnly            []string
	flagRepair          bool
	flagHashSmallerThan string
	flagFromReport      string
	flagSkipDB          bool
	flagSkipTagCores    bool
)

// helpShown flips when cobra renders help, so main can exit 1 for it.
var helpShown bool

var rootCmd = &cobra.Command{
	Use:           "awtfdb-janitor",
	Short:         "Check the index for inconsistencies, optionally repairing them",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runJanitor,
}

func init() {
	defaultHelp := rootCmd.HelpFunc()
	rootCmd.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		helpShown = true
		defaultHelp(cmd, args)
	})

	rootCmd.Flags().StringVar(&flagDatabase, "database", "", "database file (default: $HOME/awtf.db)")
	rootCmd.Flags().BoolVarP(&flagVersion, "version", "V", false, "print version and exit")
	rootCmd.Flags().BoolVarP(&flagVerbose, "verbose", "v", false, "log each problem as it is found")
	rootCmd.Flags().BoolVar(&flagFull, "full", false, "recompute file content hashes, not just existence")
	rootCmd.Flags().StringArrayVar(&flagOnly, "only", nil, "limit --full re-hashing to this path prefix (repeatable)")
	rootCmd.Flags().BoolVar(&flagRepair, "repair", false, "fix repairable problems")
	rootCmd.Flags().StringVar(&flagHashSmallerThan, "hash-files-smaller-than", "", "only re-hash files smaller than this, e.g. 500K, 10M, 1G")
	rootCmd.Flags().StringVar(&flagFromReport, "from-report", "", "recheck only the rows recorded in a previous run's report")
	rootCmd.Flags().BoolVar(&flagSkipDB, "skip-db", false, "skip database integrity and foreign key checks")
	rootCmd.Flags().BoolVar(&flagSkipTagCores, "skip-tag-cores", false, "skip re-hashing tag core data")
}

func runJanitor(cmd *cobra.Command, args []string) error {
	if flagVersion {
		fmt.Printf("awtfdb-janitor %s\n", version)
		return errShowedVersion
	}

	opts, err := buildOptions()
	if err != nil {
		return err
	}

	configDatabase, err := loadConfigDatabase()
	if err != nil {
		return err
	}
	dbPath, err := paths.ResolveDatabasePath(flagDatabase, configDatabase)
	if err != nil {
		return fmt.Errorf("resolve database path: %w", err)
	}

	ctx := cmd.Context()
	backend, err := sqlite.Open(ctx, dbPath)
	if err != nil {
		return err
	}
	defer backend.Close()

	j, err := janitor.New(backend, opts)
	if err != nil {
		return err
	}
	report, err := j.Run(ctx)
	if err != nil {
		return err
	}

	printSummary(report)
	if report.TotalProblems() == 0 {
		return nil
	}
	if opts.Repair {
		return nil
	}

	path, err := report.Write()
	if err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	fmt.Printf("report written to %s\n", path)
	return errProblemsFound
}

func buildOptions() (janitor.Options, error) {
	opts := janitor.Options{
		Full:         flagFull,
		Only:         flagOnly,
		Repair:       flagRepair,
		FromReport:   flagFromReport,
		SkipDB:       flagSkipDB,
		SkipTagCores: flagSkipTagCores,
		Verbose:      flagVerbose,
	}
	if flagHashSmallerThan != "" {
		n, err := humanize.ParseBytes(flagHashSmallerThan)
		if err != nil {
			return opts, fmt.Errorf("%q: %w", flagHashSmallerThan, types.ErrInvalidByteAmount)
		}
		opts.HashFilesSmallerThan = n
	}
	return opts, nil
}

func printSummary(report *janitor.Report) {
	out := os.Stdout
	for _, kind := range janitor.Kinds() {
		c := report.Counters[kind]
		if c.Total == 0 && !flagVerbose {
			continue
		}
		fmt.Fprintf(out, "%s: %d (%d unrepairable)\n", kind, c.Total, c.Unrepairable)
	}
	fmt.Fprintf(out, "total problems: %d\n", report.TotalProblems())
}
