package main

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/pkg/errors"
)

func (cli *commandLine) reconcile(apply, asJSON bool) error {
	ctx := context.Background()
	report, err := cli.billingSvc.Reconcile(ctx)
	if err != nil {
		return errors.Wrap(err, "reconciling")
	}
	res, err := cli.billingSvc.Backfill(ctx, apply)
	if err != nil {
		return errors.Wrap(err, "backfilling links")
	}

	if asJSON {
		enc := json.NewEncoder(cli.out)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			Report   interface{} `json:"report"`
			Backfill interface{} `json:"backfill"`
		}{report, res})
	}

	fmt.Fprintf(cli.out, "match window: %s\n", report.MatchWindow)
	fmt.Fprintf(cli.out, "matches: %d\n", len(report.Matches))
	fmt.Fprintf(cli.out, "uninvoiced orders: %d\n", len(report.UninvoicedOrders))
	fmt.Fprintf(cli.out, "unmatched invoices: %d\n", len(report.UnmatchedInvoices))
	fmt.Fprintf(cli.out, "orphan orders: %d\n", len(report.OrphanOrders))
	fmt.Fprintf(cli.out, "orphan invoices: %d\n", len(report.OrphanInvoices))

	if len(res.Proposals) > 0 {
		w := tabwriter.NewWriter(cli.out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TABLE\tROW\tCOLUMN\tVALUE\tREASON")
		for _, p := range res.Proposals {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", p.Table, p.RowID, p.Column, p.Value, p.Reason)
		}
		if err = w.Flush(); err != nil {
			return err
		}
	}
	if res.DryRun {
		fmt.Fprintf(cli.out, "%d link(s) proposed; run with -apply to write them\n", len(res.Proposals))
	} else {
		fmt.Fprintf(cli.out, "%d link(s) applied\n", res.Applied)
	}
	return nil
}

func (cli *commandLine) webhooksStatus() error {
	st, err := cli.verificationSvc.Stats(context.Background())
	if err != nil {
		return errors.Wrap(err, "computing verification stats")
	}

	w := tabwriter.NewWriter(cli.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "EVENTS\tCOUNT")
	for _, k := range sortedKeys(st.EventsByState) {
		fmt.Fprintf(w, "%s\t%d\n", k, st.EventsByState[k])
	}
	fmt.Fprintln(w, "SESSIONS\tCOUNT")
	for _, k := range sortedKeys(st.SessionsByStatus) {
		fmt.Fprintf(w, "%s\t%d\n", k, st.SessionsByStatus[k])
	}
	if err = w.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(cli.out, "retryable failures: %d\n", st.RetryableFailures)
	fmt.Fprintf(cli.out, "exhausted failures: %d\n", st.ExhaustedFailures)
	if !st.OldestUnprocessed.IsZero() {
		fmt.Fprintf(cli.out, "oldest unprocessed: %s\n", st.OldestUnprocessed.Format(time.RFC3339))
	}
	if !st.LastReceived.IsZero() {
		fmt.Fprintf(cli.out, "last received: %s\n", st.LastReceived.Format(time.RFC3339))
	}
	return nil
}

func (cli *commandLine) webhooksRetry() error {
	report, err := cli.verificationSvc.RetryFailed(context.Background())
	if err != nil {
		return errors.Wrap(err, "retrying failed events")
	}
	fmt.Fprintf(cli.out, "retried: %d, processed: %d, failed: %d\n", report.Retried, report.Processed, report.Failed)
	return nil
}

func (cli *commandLine) expireSessions(ttl time.Duration) error {
	if ttl <= 0 {
		return errors.Errorf("ttl must be positive (got %s)", ttl)
	}
	n, err := cli.verificationSvc.ExpireStale(context.Background(), ttl)
	if err != nil {
		return errors.Wrap(err, "expiring sessions")
	}
	fmt.Fprintf(cli.out, "expired %d session(s) idle for more than %s\n", n, ttl)
	return nil
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
