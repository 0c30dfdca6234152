package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/couchcryptid/incident-heat-etl/internal/domain"
	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"
)

// statusOrder fixes the row order of status tables.
var statusOrder = []domain.Status{domain.StatusOK, domain.StatusApprox, domain.StatusFail, domain.StatusPending}

func colorStatus(s domain.Status) string {
	switch s {
	case domain.StatusOK:
		return color.New(color.FgGreen).Sprint(s)
	case domain.StatusApprox:
		return color.New(color.FgYellow).Sprint(s)
	case domain.StatusFail:
		return color.New(color.FgRed).Sprint(s)
	default:
		return string(s)
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// writeRunSummary prints a run summary as a status table followed by the
// resolution breakdown.
func writeRunSummary(w io.Writer, format string, s domain.RunSummary) error {
	if format == "json" {
		return writeJSON(w, s)
	}

	mode := ""
	if s.DryRun {
		mode = " (dry run, nothing persisted)"
	}
	if _, err := fmt.Fprintf(w, "run %s%s\n", s.RunID, mode); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "selected %d, updated %d, commits %d, took %s\n",
		s.Selected, s.Updated, s.Commits, s.Duration.Round(time.Millisecond)); err != nil {
		return err
	}
	if s.Updated == 0 {
		return nil
	}

	rows := make([][]string, 0, len(s.ByStatus)+len(s.ByResolution))
	for _, st := range statusOrder {
		if n, ok := s.ByStatus[st]; ok {
			rows = append(rows, []string{"status", colorStatus(st), strconv.Itoa(n)})
		}
	}
	for _, res := range sortedKeys(s.ByResolution) {
		rows = append(rows, []string{"resolution", res, strconv.Itoa(s.ByResolution[res])})
	}
	return renderTable(w, []string{"Kind", "Value", "Incidents"}, rows)
}

// writeStatus prints incident counts per geocode status and the cache size.
func writeStatus(w io.Writer, format string, counts map[domain.Status]int, cacheEntries int) error {
	if format == "json" {
		return writeJSON(w, struct {
			Incidents    map[domain.Status]int `json:"incidents"`
			CacheEntries int                   `json:"cache_entries"`
		}{counts, cacheEntries})
	}

	total := 0
	rows := make([][]string, 0, len(statusOrder)+1)
	for _, st := range statusOrder {
		n := counts[st]
		total += n
		rows = append(rows, []string{colorStatus(st), strconv.Itoa(n)})
	}
	rows = append(rows, []string{"total", strconv.Itoa(total)})
	if err := renderTable(w, []string{"Status", "Incidents"}, rows); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "geocode cache entries: %d\n", cacheEntries)
	return err
}

func renderTable(w io.Writer, headers []string, rows [][]string) error {
	table := tablewriter.NewWriter(w)
	defer func() { _ = table.Close() }()

	table.Header(headers)
	table.Configure(func(cfg *tablewriter.Config) {
		cfg.Row.Alignment.Global = tw.AlignRight
	})
	if err := table.Bulk(rows); err != nil {
		return err
	}
	return table.Render()
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
