package main

import (
	"cmp"
	"fmt"
	"slices"
	"text/tabwriter"
	"time"

	"github.com/lucasew/blobpurge/internal/backlinks"
	"github.com/lucasew/blobpurge/internal/blobstore"
	"github.com/lucasew/blobpurge/internal/errutil"
	"github.com/lucasew/blobpurge/internal/purge"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type rankedBlob struct {
	purge.Blob
	score float64
}

var rankCmd = &cobra.Command{
	Use:   "rank",
	Short: "Lists blobs from most to least disposable",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		limit, err := cmd.Flags().GetInt("limit")
		if err != nil {
			return err
		}

		index, err := backlinks.Open(indexPath())
		if err != nil {
			return err
		}
		defer errutil.Close(index, "Failed to close backlink index")

		now := time.Now()
		var ranked []rankedBlob
		for b, err := range blobstore.NewLocalStore(viper.GetString("blob-dir")).List(ctx) {
			if err != nil {
				return err
			}
			ranked = append(ranked, rankedBlob{Blob: b, score: purge.Score(b, now)})
		}
		slices.SortStableFunc(ranked, func(a, b rankedBlob) int {
			return cmp.Compare(b.score, a.score)
		})
		if limit > 0 && len(ranked) > limit {
			ranked = ranked[:limit]
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		if _, err := fmt.Fprintln(w, "SCORE\tTHRESHOLD\tSIZE\tAGE\tLINKS\tBLOB"); err != nil {
			return err
		}
		for _, r := range ranked {
			links, err := index.Count(ctx, r.ID)
			if err != nil {
				return err
			}
			threshold := "-"
			if i := purge.Rung(r.score); i >= 0 {
				threshold = fmt.Sprintf("%g", purge.Thresholds[i])
			}
			age := now.Sub(r.Timestamp).Truncate(time.Second)
			if _, err := fmt.Fprintf(w, "%.0f\t%s\t%d\t%s\t%d\t%s\n", r.score, threshold, r.Size, age, links, r.ID); err != nil {
				return err
			}
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(rankCmd)
	rankCmd.Flags().IntP("limit", "n", 0, "Show at most this many blobs")
}
