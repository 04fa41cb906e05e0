// Copyright 2025 Certen Protocol
//
// `verify` implements spec §6's verify surface, plus --all batch mode over
// an archive.Store directory (spec.md §6 + SPEC_FULL §6 expansion).

package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/certen/car-engine/internal/archive"
	"github.com/certen/car-engine/internal/verifier"
	"github.com/certen/car-engine/pkg/config"
	"github.com/certen/car-engine/pkg/logging"
	"github.com/certen/car-engine/pkg/metrics"
)

var (
	verifyFlagFormat string
	verifyFlagStrict bool
	verifyFlagAll    bool
)

var verifyCmd = &cobra.Command{
	Use:   "verify <path>",
	Short: "Verify a CAR archive",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		strict := verifyFlagStrict || config.GetCLI().Engine.Strict

		if verifyFlagAll {
			os.Exit(runBatchVerify(path, strict))
		}
		os.Exit(runSingleVerify(path, strict))
		return nil
	},
}

func init() {
	verifyCmd.Flags().StringVar(&verifyFlagFormat, "format", "human", "output format: human|json")
	verifyCmd.Flags().BoolVar(&verifyFlagStrict, "strict", false, "upgrade LEGACY_NO_BODY_SIG warnings to failures")
	verifyCmd.Flags().BoolVar(&verifyFlagAll, "all", false, "treat <path> as a directory and verify every archive in it")
}

func runSingleVerify(path string, strict bool) int {
	start := time.Now()
	report, err := verifyOne(path, strict)
	if err != nil {
		logging.L().Errorw("verify failed before a report could be produced", "path", path, "error", err)
		fmt.Fprintf(os.Stderr, "usage error: %v\n", err)
		return 3
	}
	metrics.RecordVerify(report.Verdict, time.Since(start).Seconds())
	printReport(report)
	return report.ExitCode()
}

func runBatchVerify(dir string, strict bool) int {
	store := archive.NewStore(dir)
	entries, err := store.List()
	if err != nil {
		fmt.Fprintf(os.Stderr, "usage error: %v\n", err)
		return 3
	}

	worst := 0 // VERIFIED
	for _, entry := range entries {
		start := time.Now()
		report, err := verifyEntry(store, entry, strict)
		if err != nil {
			logging.L().Errorw("verify failed before a report could be produced", "path", entry.Path, "error", err)
			fmt.Printf("%s: usage error: %v\n", entry.Path, err)
			worst = maxSeverity(worst, 3)
			continue
		}
		metrics.RecordVerify(report.Verdict, time.Since(start).Seconds())
		printReport(report)
		worst = maxSeverity(worst, report.ExitCode())
	}
	fmt.Printf("verified %d archive(s) in %s\n", len(entries), dir)
	return worst
}

// maxSeverity picks the worst of two exit codes by the ordering FAILED(1) >
// usage-error(3) > UNSIGNED(2) > VERIFIED(0) the spec's batch mode wants:
// any hard failure anywhere outranks everything else.
func maxSeverity(a, b int) int {
	rank := func(code int) int {
		switch code {
		case 1:
			return 3
		case 3:
			return 2
		case 2:
			return 1
		default:
			return 0
		}
	}
	if rank(b) > rank(a) {
		return b
	}
	return a
}

func verifyOne(path string, strict bool) (*verifier.Report, error) {
	bundle, err := archive.Read(path)
	if err != nil {
		return nil, err
	}
	return verifier.Verify(bundle.CarJSON, bundle.Attachments, verifier.Options{Strict: strict}), nil
}

func verifyEntry(store *archive.Store, entry archive.Entry, strict bool) (*verifier.Report, error) {
	bundle, err := store.Open(entry)
	if err != nil {
		return nil, err
	}
	return verifier.Verify(bundle.CarJSON, bundle.Attachments, verifier.Options{Strict: strict}), nil
}

func printReport(report *verifier.Report) {
	if verifyFlagFormat == "json" {
		out, err := report.JSON()
		if err != nil {
			fmt.Fprintf(os.Stderr, "render report: %v\n", err)
			return
		}
		fmt.Println(string(out))
		return
	}
	fmt.Print(report.Human())
}
