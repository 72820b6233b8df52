package main

import (
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/blackmichael/bluesky-migrate/internal/archive"
	"github.com/blackmichael/bluesky-migrate/internal/domain"
	"github.com/blackmichael/bluesky-migrate/internal/migrate"
)

func newStatsCmd(load loadFunc) *cobra.Command {
	var (
		includeReplies bool
		export         string
	)

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Summarize the archive without publishing anything",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := load()
			if err != nil {
				return err
			}

			records := archive.LoadBestEffort(archive.TweetsPath(cfg.DataRoot), logger)
			var posts []domain.Post
			if includeReplies {
				sorted := append([]archive.Record(nil), records...)
				archive.SortChronological(sorted)
				posts = archive.Normalize(sorted, logger)
			} else {
				posts = migrate.BuildSequence(records, logger)
			}
			stats := archive.ComputeStats(posts)

			printStats(cmd.OutOrStdout(), stats, includeReplies)

			if export != "" {
				if err := archive.ExportMetadata(export, posts); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s posts to %s\n", humanize.Comma(int64(len(posts))), export)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&includeReplies, "include-replies", false, "count replies as well as top-level posts")
	cmd.Flags().StringVar(&export, "export", "", "also write the posts as JSON metadata to this file (e.g. "+archive.MetadataFile+")")

	return cmd
}

func printStats(out io.Writer, s archive.Stats, includeReplies bool) {
	if s.Count == 0 {
		fmt.Fprintln(out, "No posts found.")
		return
	}

	fmt.Fprintf(out, "Posts:          %s\n", humanize.Comma(int64(s.Count)))
	fmt.Fprintf(out, "First post:     %s UTC\n", s.Earliest.UTC().Format("2006-01-02 15:04:05"))
	fmt.Fprintf(out, "Last post:      %s UTC\n", s.Latest.UTC().Format("2006-01-02 15:04:05"))
	fmt.Fprintf(out, "Span:           %s days (%.1f years)\n", humanize.Comma(int64(s.Days)), s.Years())
	fmt.Fprintf(out, "Posts per day:  %.2f\n", s.PostsPerDay)
	fmt.Fprintf(out, "Average length: %.1f characters\n", s.AverageLength)
	if includeReplies {
		fmt.Fprintf(out, "Replies:        %s\n", humanize.Comma(int64(s.Replies)))
	}
	fmt.Fprintf(out, "Hashtags:       %s\n", humanize.Comma(int64(s.Hashtags)))
	fmt.Fprintf(out, "Mentions:       %s\n", humanize.Comma(int64(s.Mentions)))
}
