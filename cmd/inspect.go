package main

import (
	"fmt"
	"io"
	"slices"

	"github.com/spf13/cobra"

	"telemetry-logger/utils"
	"telemetry-logger/views"
)

const (
	maxReportedMismatches = 5
	usPerHour             = 3600 * 1_000_000 // Timestamp wraps every hour
)

var inspectCmd = &cobra.Command{
	Use:   "inspect FILE...",
	Short: "Summarise recorded CSV files and check their timestamps",
	Long: `inspect re-reads recorded or exported CSV files and prints, per file, the
row count, the node ids, the Timestamp_us span and any rows whose Timestamp
column does not match Timestamp_us.`,
	Args:         cobra.MinimumNArgs(1),
	SilenceUsage: true,
	RunE:         runInspect,
}

func init() {
	rootCmd.AddCommand(inspectCmd)
}

// fileReport summarises one recorded file.
type fileReport struct {
	Path       string
	Rows       int
	Nodes      []string
	FirstUs    uint64
	LastUs     uint64
	Mismatches []timestampMismatch
}

// timestampMismatch is a row whose Timestamp text disagrees with Timestamp_us.
type timestampMismatch struct {
	Row      int // 1-based data row
	Text     string
	ParsedUs uint64
	WantUs   uint64
}

func inspectFile(path string) (fileReport, error) {
	rows, err := views.ReadRecording(path)
	if err != nil {
		return fileReport{Path: path}, err
	}
	rep := fileReport{Path: path, Rows: len(rows)}
	for i, row := range rows {
		if !slices.Contains(rep.Nodes, row.NodeID) {
			rep.Nodes = append(rep.Nodes, row.NodeID)
		}
		if i == 0 {
			rep.FirstUs = row.TimestampUs
		}
		rep.LastUs = row.TimestampUs
		if utils.FormatMicros(row.TimestampUs) != row.Timestamp {
			rep.Mismatches = append(rep.Mismatches, timestampMismatch{
				Row:      i + 1,
				Text:     row.Timestamp,
				ParsedUs: utils.ParseMicros(row.Timestamp),
				WantUs:   row.TimestampUs % usPerHour,
			})
		}
	}
	slices.Sort(rep.Nodes)
	return rep, nil
}

func (r fileReport) write(w io.Writer) {
	fmt.Fprintf(w, "%s\n", r.Path)
	fmt.Fprintf(w, "  rows:   %d\n", r.Rows)
	fmt.Fprintf(w, "  nodes:  %v\n", r.Nodes)
	if r.Rows > 0 {
		fmt.Fprintf(w, "  span:   %s .. %s (%d us)\n",
			utils.FormatMicros(r.FirstUs), utils.FormatMicros(r.LastUs), int64(r.LastUs)-int64(r.FirstUs))
	}
	if len(r.Mismatches) > 0 {
		shown := r.Mismatches[:min(len(r.Mismatches), maxReportedMismatches)]
		rows := make([]int, len(shown))
		for i, m := range shown {
			rows[i] = m.Row
		}
		fmt.Fprintf(w, "  timestamp mismatches: %d (rows %v)\n", len(r.Mismatches), rows)
		for _, m := range shown {
			fmt.Fprintf(w, "    row %d: %q reads %d us, Timestamp_us gives %d us\n", m.Row, m.Text, m.ParsedUs, m.WantUs)
		}
	}
}

func runInspect(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	var failed int
	for _, path := range args {
		rep, err := inspectFile(path)
		if err != nil {
			fmt.Fprintf(out, "%s\n  error: %v\n", path, err)
			failed++
			continue
		}
		rep.write(out)
		if len(rep.Mismatches) > 0 {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d files failed inspection", failed, len(args))
	}
	return nil
}
