package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/blackmichael/bluesky-migrate/internal/archive"
	"github.com/blackmichael/bluesky-migrate/internal/bluesky"
	"github.com/blackmichael/bluesky-migrate/internal/config"
	"github.com/blackmichael/bluesky-migrate/internal/domain"
	"github.com/blackmichael/bluesky-migrate/internal/firehose"
	"github.com/blackmichael/bluesky-migrate/internal/httpserver"
	"github.com/blackmichael/bluesky-migrate/internal/media"
	"github.com/blackmichael/bluesky-migrate/internal/migrate"
	"github.com/blackmichael/bluesky-migrate/internal/publish"
	"github.com/blackmichael/bluesky-migrate/internal/sqlite"
	"github.com/blackmichael/bluesky-migrate/internal/store"
)

// confirmWait bounds how long a run waits for Jetstream to echo the last
// published posts.
const confirmWait = 15 * time.Second

type runOptions struct {
	dryRun      bool
	startFrom   string
	localTime   bool
	reprocess   string
	stagger     time.Duration
	maxInFlight int
}

func newRunCmd(load loadFunc) *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Publish the archive's posts in chronological order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := load()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("stagger") {
				cfg.Stagger = opts.stagger
			}
			if cmd.Flags().Changed("max-in-flight") {
				cfg.MaxInFlight = opts.maxInFlight
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runMigration(ctx, cfg, opts, logger, cmd.OutOrStdout())
		},
	}

	f := cmd.Flags()
	f.BoolVar(&opts.dryRun, "dry-run", false, "print what would be published without contacting the PDS")
	f.StringVar(&opts.startFrom, "start-from", "", `publish posts after this time ("2006-01-02 15:04:05"), ignoring the checkpoint`)
	f.BoolVar(&opts.localTime, "local-time", false, "read --start-from in local time instead of UTC")
	f.StringVar(&opts.reprocess, "reprocess", "", "republish a subset (video, gif, photo or media) without touching the checkpoint")
	f.DurationVar(&opts.stagger, "stagger", 0, "pause between publish launches (overrides SLEEP_INTERVAL_SECONDS)")
	f.IntVar(&opts.maxInFlight, "max-in-flight", 0, "cap on concurrent publishes, 0 for none (overrides MAX_IN_FLIGHT)")
	cmd.MarkFlagsMutuallyExclusive("start-from", "reprocess")

	return cmd
}

func runMigration(ctx context.Context, cfg *config.Config, opts runOptions, logger *slog.Logger, out io.Writer) error {
	sel, err := migrate.NewSelection(opts.startFrom, opts.localTime, opts.reprocess)
	if err != nil {
		return err
	}
	if !opts.dryRun {
		if err := cfg.RequireCredentials(); err != nil {
			return err
		}
	}

	records := archive.LoadBestEffort(archive.TweetsPath(cfg.DataRoot), logger)
	posts := migrate.BuildSequence(records, logger)

	checkpoint, ledger, closeState, err := openState(cfg, logger)
	if err != nil {
		return err
	}
	defer closeState()

	selected, err := migrate.Select(ctx, posts, sel, checkpoint, logger)
	if err != nil {
		return err
	}
	if len(selected) == 0 {
		fmt.Fprintln(out, "Nothing to publish.")
		return nil
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	metrics := migrate.NewMetrics(reg)

	client := bluesky.NewClient(cfg.PDSURL)
	session := bluesky.NewSessionManager(client, cfg.Handle, cfg.Password, logger)
	videoSession := bluesky.NewSessionManager(client, cfg.Handle, cfg.Password, logger.With("channel", "video"))
	uploader := media.NewUploader(archive.MediaDir(cfg.DataRoot), client, media.NewVideoChannel(client, videoSession, logger), logger)

	runOpts := migrate.Options{
		Stagger:     cfg.Stagger,
		MaxInFlight: cfg.MaxInFlight,
		DryRun:      opts.dryRun,
		Selection:   sel,
		Out:         out,
		MediaSize:   uploader.Size,
	}

	var poster migrate.Poster
	var watcher *firehose.Watcher
	if !opts.dryRun {
		poster = publish.NewPublisher(client, session, uploader, logger)

		// a failed login here is retried by each publish
		s, err := session.GetOrCreate(ctx)
		if err != nil {
			logger.Warn("initial login failed, continuing", "error", err)
		}

		switch {
		case cfg.JetstreamURL == "":
		case s == nil:
			logger.Warn("jetstream watcher disabled, account DID unknown")
		default:
			watcher = firehose.NewWatcher(cfg.JetstreamURL, s.DID, logger)
			runOpts.OnPublished = watcher.Expect

			wctx, cancel := context.WithCancel(ctx)
			defer cancel()
			go func() {
				if err := watcher.Start(wctx); err != nil && wctx.Err() == nil {
					logger.Error("jetstream watcher exited with error", "error", err)
				}
			}()
		}
	}

	orchestrator := migrate.New(poster, checkpoint, ledger, metrics, logger, runOpts)

	if cfg.StatusAddr != "" {
		server := httpserver.NewServer(cfg.StatusAddr, orchestrator, reg, logger)
		go func() {
			if err := server.Start(); err != nil && err != http.ErrServerClosed {
				logger.Error("status server exited with error", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				logger.Error("error shutting down status server", "error", err)
			}
		}()
	}

	progress := orchestrator.Run(ctx, selected)

	if watcher != nil {
		awaitConfirmations(ctx, watcher, logger)
	}

	printSummary(out, progress)
	if progress.Failed > 0 {
		return fmt.Errorf("%d of %d posts failed to publish", progress.Failed, progress.Total)
	}
	if !progress.Done() {
		return fmt.Errorf("run interrupted after %d of %d posts", progress.Launched, progress.Total)
	}
	return nil
}

// openState returns the checkpoint store and ledger for the configured
// backend. Checkpoint writes go through a monotonic guard because publishes
// finish out of order.
func openState(cfg *config.Config, logger *slog.Logger) (domain.CheckpointStore, domain.Ledger, func(), error) {
	switch cfg.CheckpointBackend {
	case config.BackendSQLite:
		repo, err := sqlite.NewRepository(cfg.DatabasePath)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("open state database: %w", err)
		}
		n, err := repo.CountPublished(context.Background())
		if err != nil {
			logger.Warn("failed to count published posts", "error", err)
		}
		logger.Info("opened state database", "path", cfg.DatabasePath, "published", n)
		return store.NewMonotonic(repo), repo, func() { repo.Close() }, nil

	default:
		logger.Info("using checkpoint file", "path", cfg.CheckpointFile)
		return store.NewMonotonic(store.NewFile(cfg.CheckpointFile)), store.NewMemoryLedger(), func() {}, nil
	}
}

func awaitConfirmations(ctx context.Context, w *firehose.Watcher, logger *slog.Logger) {
	deadline := time.NewTimer(confirmWait)
	defer deadline.Stop()
	tick := time.NewTicker(250 * time.Millisecond)
	defer tick.Stop()

wait:
	for {
		if _, pending := w.Counts(); pending == 0 {
			break
		}
		select {
		case <-ctx.Done():
			break wait
		case <-deadline.C:
			break wait
		case <-tick.C:
		}
	}

	confirmed, pending := w.Counts()
	logger.Info("jetstream confirmations", "confirmed", confirmed, "unconfirmed", pending)
	if pending > 0 {
		logger.Warn("posts not seen on jetstream", "uris", w.Unconfirmed())
	}
}

func printSummary(out io.Writer, p domain.Progress) {
	verb := "Published"
	if p.DryRun {
		verb = "Would publish"
	}
	fmt.Fprintf(out, "\n%s %s of %s posts", verb, humanize.Comma(int64(p.Published)), humanize.Comma(int64(p.Total)))
	if p.Failed > 0 {
		fmt.Fprintf(out, ", %s failed", humanize.Comma(int64(p.Failed)))
	}
	if p.Skipped > 0 {
		fmt.Fprintf(out, ", %s already published", humanize.Comma(int64(p.Skipped)))
	}
	if p.QuotesPublished > 0 {
		fmt.Fprintf(out, ", plus %s quoted posts", humanize.Comma(int64(p.QuotesPublished)))
	}
	fmt.Fprintln(out, ".")
	if p.Checkpoint != "" {
		fmt.Fprintf(out, "Checkpoint: %s UTC\n", p.Checkpoint)
	}
}
