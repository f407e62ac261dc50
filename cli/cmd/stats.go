package cmd

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/packetline/cli/render"
	"github.com/pithecene-io/packetline/iox"
	"github.com/pithecene-io/packetline/sink"
)

// StatsCommand returns the stats command.
// It summarizes records already persisted by earlier runs.
func StatsCommand() *cli.Command {
	flags := []cli.Flag{ConfigFlag, FormatFlag}
	flags = append(flags, storageFlags()...)
	return &cli.Command{
		Name:   "stats",
		Usage:  "Summarize stored records per protocol",
		Flags:  flags,
		Action: statsAction,
	}
}

func statsAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(fmt.Sprintf("config error: %v", err), exitConfigError)
	}
	sinkCfg := sinkConfigWithPrecedence(c, cfg)
	if err := checkPersistent(sinkCfg.Backend); err != nil {
		return cli.Exit(err.Error(), exitConfigError)
	}
	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), exitConfigError)
	}

	summary, err := summarizeStorage(c.Context, sinkCfg)
	if err != nil {
		return cli.Exit(fmt.Sprintf("stats failed: %v", err), exitRunError)
	}
	return r.Render(summary)
}

// checkPersistent rejects backends that keep nothing between runs.
func checkPersistent(b sink.Backend) error {
	switch b {
	case sink.BackendFS, sink.BackendS3, sink.BackendSQLite:
		return nil
	case sink.BackendStub, sink.BackendMemory, "":
		return fmt.Errorf("storage backend %q keeps nothing between runs", b)
	default:
		return fmt.Errorf("unknown storage backend %q (must be one of %v)", b, sink.Backends())
	}
}

// summarizeStorage opens the backend described by cfg and summarizes it.
func summarizeStorage(ctx context.Context, cfg sink.Config) (sink.Summary, error) {
	s, err := sink.Open(ctx, cfg)
	if err != nil {
		return sink.Summary{}, err
	}
	defer iox.DiscardClose(s)

	q, ok := s.(sink.Querier)
	if !ok {
		return sink.Summary{}, fmt.Errorf("storage backend %q cannot be queried", cfg.Backend)
	}
	return q.Summarize(ctx)
}
