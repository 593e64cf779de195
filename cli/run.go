package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"ytsheets/filter"
	"ytsheets/pipeline"
)

// runFlags are the per-invocation overrides shared by run and schedule.
type runFlags struct {
	tab           string
	spreadsheet   string
	maxResults    int
	minDuration   int64
	excludeShorts bool
	keywords      []string
	keywordMode   string
	minViews      int64
	minLikes      int64
	since         string
	sequential    bool
	concurrency   int
	jsonOutput    bool
}

var flags runFlags

var runCmd = &cobra.Command{
	Use:   "run [channel...]",
	Short: "Sync channels into the destination tab once",
	Long: `Run resolves each channel (ID, @handle or channel URL), fetches its most
recent uploads, applies the filters, skips videos already written to the tab,
and appends the rest.

Channels given as arguments replace the configured channel list.

Examples:
  ytsheets run @GoogleDevelopers
  ytsheets run --tab Shorts --max 200 https://www.youtube.com/@golang
  ytsheets run --exclude-shorts --min-views 10000 --json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		rc, err := flags.apply(cmd, a.runConfig(args))
		if err != nil {
			return err
		}
		res := a.orch.Run(ctx, rc)
		if err := printResult(os.Stdout, res, flags.jsonOutput); err != nil {
			return err
		}
		if res.Status != pipeline.StatusCompleted {
			return fmt.Errorf("%w: %s", errRunFailed, res.Status)
		}
		return nil
	},
}

func init() {
	addRunFlags(runCmd)
	runCmd.Flags().BoolVar(&flags.jsonOutput, "json", false, "print the run result as JSON")
}

func addRunFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&flags.tab, "tab", "", "destination tab (overrides config)")
	f.StringVar(&flags.spreadsheet, "spreadsheet", "", "destination spreadsheet ID (overrides config)")
	f.IntVar(&flags.maxResults, "max", 0, "maximum uploads fetched per channel")
	f.Int64Var(&flags.minDuration, "min-duration", 0, "drop videos shorter than this many seconds")
	f.BoolVar(&flags.excludeShorts, "exclude-shorts", false, "drop Shorts")
	f.StringSliceVar(&flags.keywords, "keywords", nil, "comma-separated keywords matched against title and description")
	f.StringVar(&flags.keywordMode, "keyword-mode", "", "keyword mode: include or exclude")
	f.Int64Var(&flags.minViews, "min-views", 0, "drop videos with fewer views")
	f.Int64Var(&flags.minLikes, "min-likes", 0, "drop videos with fewer likes (hidden likes never pass)")
	f.StringVar(&flags.since, "since", "", "only videos published after this date (RFC3339 or YYYY-MM-DD)")
	f.BoolVar(&flags.sequential, "sequential", false, "process channels one at a time")
	f.IntVar(&flags.concurrency, "concurrency", 0, "parallel channel fetches (overrides config)")
}

// apply overlays the flags the user set on rc.
func (rf *runFlags) apply(cmd *cobra.Command, rc pipeline.RunConfig) (pipeline.RunConfig, error) {
	changed := cmd.Flags().Changed
	if changed("tab") {
		rc.Destination.Tab = rf.tab
	}
	if changed("spreadsheet") {
		rc.Destination.SpreadsheetID = rf.spreadsheet
	}
	if changed("max") {
		rc.MaxResultsPerChannel = rf.maxResults
	}
	if changed("concurrency") {
		rc.Concurrency = rf.concurrency
	}
	rc.Sequential = rf.sequential

	if changed("min-duration") {
		rc.Filters.MinDurationSeconds = rf.minDuration
	}
	if changed("exclude-shorts") {
		rc.Filters.ExcludeShorts = rf.excludeShorts
	}
	if changed("keywords") {
		rc.Filters.Keywords = rf.keywords
	}
	if changed("keyword-mode") {
		mode, err := filter.ParseKeywordMode(rf.keywordMode)
		if err != nil {
			return rc, err
		}
		rc.Filters.KeywordMode = mode
	}
	if changed("min-views") {
		rc.Filters.MinViews = rf.minViews
	}
	if changed("min-likes") {
		rc.Filters.MinLikes = rf.minLikes
	}
	if rf.since != "" {
		t, err := parseSince(rf.since)
		if err != nil {
			return rc, err
		}
		rc.Filters.PublishedAfter = t
	}
	return rc, nil
}

func parseSince(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse --since %q: use RFC3339 or YYYY-MM-DD", s)
	}
	return t, nil
}

func printResult(w io.Writer, res *pipeline.RunResult, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CHANNEL\tFETCHED\tMATCHED\tDUPLICATES\tWRITTEN\tERROR")
	for _, c := range res.Channels {
		name := c.Reference
		if c.ChannelID != "" && c.ChannelID != c.Reference {
			name = fmt.Sprintf("%s (%s)", c.Reference, c.ChannelID)
		}
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%s\n",
			truncate(name, 60), c.Fetched, c.Matched, c.Duplicates, c.Written, truncate(c.Error, 80))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(w, "\nRun %s: %s (%s)\n", res.RunID, res.Status, res.Strategy)
	fmt.Fprintf(w, "  processed %s, written %s, duplicates %s, quota %s units, %.1fs\n",
		humanize.Comma(int64(res.VideosProcessed)),
		humanize.Comma(int64(res.VideosWritten)),
		humanize.Comma(int64(res.DuplicatesPrevented)),
		humanize.Comma(res.APIQuotaUsed),
		res.DurationSeconds)
	for _, e := range res.Errors {
		fmt.Fprintf(w, "  error: %s\n", e)
	}
	return nil
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

// runOnce executes one run with rc, logging instead of printing.
func runOnce(ctx context.Context, a *app, rc pipeline.RunConfig) *pipeline.RunResult {
	res := a.orch.Run(ctx, rc)
	if res.Status != pipeline.StatusCompleted {
		a.log.Error().Str("run_id", res.RunID).Str("status", string(res.Status)).Strs("errors", res.Errors).Msg("scheduled run did not complete")
	}
	return res
}
