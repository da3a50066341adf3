package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/nguyengg/ziparchive/internal"
	"github.com/nguyengg/ziparchive/z"
	"github.com/nguyengg/ziparchive/zipper"
)

// ExtractCommand extracts every entry of an archive to a directory on disk.
type ExtractCommand struct {
	NoOverwrite bool `long:"no-overwrite" description:"skip files that already exist at the destination instead of overwriting them"`
	Quiet       bool `short:"q" long:"quiet" description:"suppress per-file progress logging"`
	Args        struct {
		Archive string `positional-arg-name:"archive" description:"path to the zip archive" required:"yes"`
		Dir     string `positional-arg-name:"dir" description:"directory to extract to; created if it does not exist" required:"yes"`
	} `positional-args:"yes"`
}

func (c *ExtractCommand) Execute(args []string) error {
	if len(args) != 0 {
		return fmt.Errorf("unknown positional arguments: %s", strings.Join(args, " "))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	ctx = internal.WithPrefixLogger(ctx, internal.Prefix(0, 1, c.Args.Archive))
	logger := internal.MustLogger(ctx)

	f, err := os.Open(c.Args.Archive)
	if err != nil {
		return fmt.Errorf("open archive error: %w", err)
	}
	defer f.Close()

	ar, err := z.Open(f)
	if err != nil {
		return fmt.Errorf("parse archive error: %w", err)
	}

	logger.Printf("extracting %d entries to %s", ar.Len(), c.Args.Dir)

	reporter := zipper.DefaultProgressReporter
	if c.Quiet {
		reporter = zipper.NoOpProgressReporter
	}

	if err = ar.Extract(ctx, c.Args.Dir, func(opts *z.ExtractOptions) {
		opts.ProgressReporter = reporter
		opts.NoOverwrite = c.NoOverwrite
	}); err != nil {
		return fmt.Errorf("extract archive error: %w", err)
	}

	logger.Printf("done")
	return nil
}
