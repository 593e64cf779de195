package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"ytsheets/cache"
	"ytsheets/config"
	"ytsheets/dedup"
	"ytsheets/quota"
)

var quotaCmd = &cobra.Command{
	Use:   "quota",
	Short: "Show today's Data API quota usage and recent history",
	RunE: func(cmd *cobra.Command, args []string) error {
		tr := quota.New(cfg.DailyQuota, quota.WithPersistence(cfg.QuotaPath()))
		st := tr.Snapshot()

		fmt.Printf("Date:      %s (UTC)\n", st.Date)
		fmt.Printf("Used:      %s / %s units (%.1f%%)\n",
			humanize.Comma(int64(st.Used)), humanize.Comma(int64(st.Budget)), st.Percent())
		fmt.Printf("Remaining: %s units\n", humanize.Comma(int64(st.Remaining())))
		fmt.Printf("Status:    %s\n", st.Status())

		if len(st.History) == 0 {
			return nil
		}
		fmt.Println()
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "DATE\tUSED\tSTATUS")
		for i := len(st.History) - 1; i >= 0; i-- {
			d := st.History[i]
			fmt.Fprintf(w, "%s\t%s\t%s\n", d.Date, humanize.Comma(int64(d.Used)), quota.StatusFor(d.Used, st.Budget))
		}
		return w.Flush()
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show response cache and seen-store statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)

		entries, err := cacheEntries(cmd, cfg)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "Cache backend:\t%s\n", cfg.CacheBackend)
		fmt.Fprintf(w, "Cached responses:\t%s\n", humanize.Comma(int64(entries)))

		if err := os.MkdirAll(cfg.StateDir, 0o755); err != nil {
			return err
		}
		db, err := dedup.OpenSQLite(cfg.SeenPath())
		if err != nil {
			return fmt.Errorf("open seen store: %w", err)
		}
		defer db.Close()
		seen, err := db.Count(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "Seen videos:\t%s\n", humanize.Comma(int64(seen)))
		fmt.Fprintf(w, "State directory:\t%s\n", cfg.StateDir)
		return w.Flush()
	},
}

func cacheEntries(cmd *cobra.Command, cfg *config.Config) (int, error) {
	backend, err := openCacheBackend(cmd.Context(), cfg)
	if err != nil {
		return 0, err
	}
	c := cache.New(cmd.Context(), backend)
	defer c.Close()
	return c.Stats().Entries, nil
}
