package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"balance_reconciler/internal/app/service"
	"balance_reconciler/internal/domain/entity"
	"balance_reconciler/internal/infrastructure/tokenhash"
	"balance_reconciler/internal/pkg/logger"
	"balance_reconciler/internal/pkg/utils"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Format string
}

// ReplayReport is what a replay prints.
type ReplayReport struct {
	Events      int                       `json:"events"`
	Applied     int                       `json:"applied"`
	Discarded   int                       `json:"discarded"`
	Skipped     []string                  `json:"skipped,omitempty"`
	Snapshot    entity.CacheSnapshot      `json:"snapshot"`
	Transitions []entity.BucketTransition `json:"transitions"`
	Scans       []entity.ScanState        `json:"scans"`
	Cache       entity.CacheDiagnostics   `json:"cache"`
}

func newReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay <events.jsonl>",
		Short: "Feed recorded engine callbacks through the cache and print the result",
		Long: `Replay reads one callback per line: {"type":"balance","payload":{...}} or
{"type":"scan","kind":"UTXO","payload":{...}}. A line without a type is a balance callback.

Example:
  reconciler replay ./testdata/session.jsonl --format json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			events, err := utils.LoadEventsFromJSONL(args[0])
			if err != nil {
				return fmt.Errorf("load events: %w", err)
			}
			report := replayEvents(events)
			return writeReport(cmd.OutOrStdout(), report, opts.Format)
		},
	}

	cmd.Flags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	return cmd
}

func replayEvents(events []utils.RecordedEvent) ReplayReport {
	log := logger.Nop{}
	normalizer := service.NewTokenNormalizer(tokenhash.NewHasher(), log)
	cache := service.NewBalanceCache(normalizer, log)
	watchdog := service.NewScanWatchdog(0, log)
	defer watchdog.Stop()

	report := ReplayReport{Events: len(events), Transitions: []entity.BucketTransition{}}
	cache.OnTransition(func(t entity.BucketTransition) {
		report.Transitions = append(report.Transitions, t)
	})

	for i, ev := range events {
		switch strings.ToLower(ev.Type) {
		case "balance":
			if cache.ApplyEvent(entity.RawBalanceEvent(ev.Payload)) {
				report.Applied++
			} else {
				report.Discarded++
			}
		case "scan":
			kind, ok := entity.ParseScanKind(ev.Kind)
			if !ok {
				report.Skipped = append(report.Skipped, fmt.Sprintf("event %d: unknown scan kind %q", i+1, ev.Kind))
				continue
			}
			watchdog.Observe(kind, entity.RawScanEvent(ev.Payload))
			report.Applied++
		default:
			report.Skipped = append(report.Skipped, fmt.Sprintf("event %d: unknown type %q", i+1, ev.Type))
		}
	}

	report.Snapshot = cache.Read("", "")
	report.Scans = watchdog.States()
	report.Cache = cache.Diagnostics()
	return report
}

func writeReport(w io.Writer, report ReplayReport, format string) error {
	switch format {
	case "json":
		out, err := jsoniter.ConfigCompatibleWithStandardLibrary.MarshalIndent(report, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(out))
		return err
	case "text":
		return writeText(w, report)
	default:
		return fmt.Errorf("invalid format %q: must be json or text", format)
	}
}

func writeText(w io.Writer, report ReplayReport) error {
	var b strings.Builder
	fmt.Fprintf(&b, "events: %d applied: %d discarded: %d\n", report.Events, report.Applied, report.Discarded)
	for _, s := range report.Skipped {
		fmt.Fprintf(&b, "skipped %s\n", s)
	}

	wallets := make([]string, 0, len(report.Snapshot))
	for id := range report.Snapshot {
		wallets = append(wallets, id)
	}
	sort.Strings(wallets)
	for _, id := range wallets {
		fmt.Fprintf(&b, "wallet %s\n", id)
		buckets := report.Snapshot[id]
		names := make([]string, 0, len(buckets))
		for bucket := range buckets {
			names = append(names, string(bucket))
		}
		sort.Strings(names)
		for _, name := range names {
			entries := buckets[entity.BalanceBucket(name)].UniqueEntries()
			sort.Slice(entries, func(i, j int) bool { return entries[i].Identity() < entries[j].Identity() })
			fmt.Fprintf(&b, "  %s (%d)\n", name, len(entries))
			for _, e := range entries {
				fmt.Fprintf(&b, "    %s %s\n", tokenLabel(e), e.Amount)
			}
		}
	}

	for _, t := range report.Transitions {
		fmt.Fprintf(&b, "transition %s %s -> %s %s amount %s at %s\n",
			t.WalletID, t.From, t.To, t.TokenAddress, t.Amount, t.DetectedAt.Format(time.RFC3339))
	}
	for _, s := range report.Scans {
		fmt.Fprintf(&b, "scan %s %s %.0f%%\n", s.Kind, s.Phase, s.Progress*100)
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func tokenLabel(e *entity.TokenEntry) string {
	if e.TokenAddress != "" {
		return e.TokenAddress
	}
	return e.TokenDataHash
}
