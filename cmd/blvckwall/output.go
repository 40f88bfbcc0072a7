// ABOUTME: Terminal rendering for records, sessions and audit entries
// ABOUTME: Colored headings and tab-aligned tables, or raw JSON with --json

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/blvckwall/blvckwall-gateway/internal/record"
	"github.com/blvckwall/blvckwall-gateway/internal/remote"
)

var titleCaser = cases.Title(language.English)

// heading turns a category like "knowledge_bases" into "Knowledge Bases".
func heading(c record.Category) string {
	return titleCaser.String(strings.ReplaceAll(string(c), "_", " "))
}

func printHeading(w io.Writer, title string) {
	cyan := color.New(color.FgCyan)
	fmt.Fprintln(w)
	cyan.Fprintf(w, "  %s\n", title)
	cyan.Fprintf(w, "  %s\n", strings.Repeat("-", len(title)))
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printRecords(w io.Writer, c record.Category, records []*record.Record) {
	printHeading(w, heading(c))

	if len(records) == 0 {
		fmt.Fprintln(w, "  (no records)")
		fmt.Fprintln(w)
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "  ID\tCREATED\tVER\tFIELDS")
	fmt.Fprintln(tw, "  --\t-------\t---\t------")
	for _, r := range records {
		fmt.Fprintf(tw, "  %s\t%s\t%d\t%s\n",
			truncate(r.ID, 12), r.CreatedAt.Local().Format("Jan 02 15:04"), r.Version, truncate(summarize(r.Fields), 60))
	}
	tw.Flush()
	fmt.Fprintln(w)
}

func printRecord(w io.Writer, r *record.Record) {
	printHeading(w, heading(r.Category))
	fmt.Fprintf(w, "  ID:        %s\n", r.ID)
	fmt.Fprintf(w, "  Owner:     %s\n", r.OwnerID)
	fmt.Fprintf(w, "  Created:   %s\n", r.CreatedAt.Local().Format(time.RFC1123))
	if !r.UpdatedAt.IsZero() {
		fmt.Fprintf(w, "  Updated:   %s\n", r.UpdatedAt.Local().Format(time.RFC1123))
	}
	fmt.Fprintf(w, "  Version:   %d\n", r.Version)

	for _, k := range sortedKeys(r.Fields) {
		fmt.Fprintf(w, "  %-10s %s\n", k+":", formatValue(r.Fields[k]))
	}
	fmt.Fprintln(w)
}

func printAudit(w io.Writer, entries []remote.AuditEntry) {
	printHeading(w, "Audit Log")
	if len(entries) == 0 {
		fmt.Fprintln(w, "  (no entries)")
		fmt.Fprintln(w)
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "  WHEN\tACTION\tTARGET\tLEDGER")
	fmt.Fprintln(tw, "  ----\t------\t------\t------")
	for _, e := range entries {
		target := e.TargetType
		if e.TargetID != "" {
			target += "/" + truncate(e.TargetID, 12)
		}
		ledger := e.LedgerTx
		if ledger == "" {
			ledger = "-"
		}
		fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\n", e.Timestamp.Local().Format("Jan 02 15:04:05"), e.Action, target, truncate(ledger, 20))
	}
	tw.Flush()
	fmt.Fprintln(w)
}

func summarize(fields map[string]any) string {
	parts := make([]string, 0, len(fields))
	for _, k := range sortedKeys(fields) {
		parts = append(parts, k+"="+formatValue(fields[k]))
	}
	return strings.Join(parts, " ")
}

func formatValue(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case nil:
		return "null"
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(data)
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
