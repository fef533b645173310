package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/LJTian/FeedHub/internal/aggregator"
	"github.com/LJTian/FeedHub/internal/collector"
	"github.com/LJTian/FeedHub/internal/config"
	"github.com/LJTian/FeedHub/internal/feed"
	"github.com/LJTian/FeedHub/internal/logger"
	"github.com/spf13/cobra"
)

type options struct {
	format  string
	policy  string
	output  string
	sources string
	timeout time.Duration
}

func newRootCmd() *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Aggregate all sources once and print the feed",
		Long: `collect scrapes every configured source once, merges the items
newest first and writes the feed document to stdout or a file.

Example usage:
  collect                          # RSS to stdout using the built-in sources
  collect --format json -o feed.json
  collect --sources ./sources.yaml --policy all-or-nothing`,
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&opts.format, "format", "f", "", "output format: rss, atom or json (default FEED_FORMAT)")
	cmd.Flags().StringVar(&opts.policy, "policy", "", "aggregation policy: partial or all-or-nothing (default AGGREGATION_POLICY)")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "write to file instead of stdout")
	cmd.Flags().StringVar(&opts.sources, "sources", "", "YAML file with source definitions (default SOURCES_FILE or built-in)")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 0, "per-source timeout (default SOURCE_TIMEOUT)")
	return cmd
}

func run(ctx context.Context, opts options, stdout io.Writer) error {
	cfg := config.Load()
	log := logger.New(cfg.LogLevel, cfg.LogFormat)

	if opts.format == "" {
		opts.format = cfg.FeedFormat
	}
	if opts.policy == "" {
		opts.policy = cfg.Policy
	}
	if opts.sources == "" {
		opts.sources = cfg.SourcesFile
	}
	if opts.timeout <= 0 {
		opts.timeout = cfg.SourceTimeout
	}

	format, err := feed.ParseFormat(opts.format)
	if err != nil {
		return err
	}
	policy, err := aggregator.ParsePolicy(opts.policy)
	if err != nil {
		return err
	}
	ser, err := feed.NewSerializer(format)
	if err != nil {
		return err
	}

	sources, err := config.LoadSources(opts.sources)
	if err != nil {
		return err
	}
	fetchers, err := collector.BuildFetchers(sources,
		collector.WithUserAgent(cfg.UserAgent),
		collector.WithTimeout(opts.timeout),
		collector.WithLogger(log),
	)
	if err != nil {
		return err
	}

	agg := aggregator.New(fetchers,
		aggregator.WithPolicy(policy),
		aggregator.WithSourceTimeout(opts.timeout),
		aggregator.WithChannel(cfg.FeedTitle, cfg.FeedLink, cfg.FeedDescription),
		aggregator.WithLogger(log),
	)
	result, err := agg.Aggregate(ctx)
	if err != nil {
		return err
	}
	for _, f := range result.Failures {
		log.WithError(f.Err).WithField("source", f.Source).Warn("source excluded from feed")
	}

	body, err := ser.Serialize(result)
	if err != nil {
		return err
	}

	if opts.output == "" {
		_, err = stdout.Write(body)
		return err
	}
	if err := os.WriteFile(opts.output, body, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", opts.output, err)
	}
	log.WithField("items", len(result.Items)).Infof("feed written to %s", opts.output)
	return nil
}
