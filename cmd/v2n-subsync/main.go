package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lkimju1/v2n-subsync/internal/applog"
	"github.com/lkimju1/v2n-subsync/internal/outdir"
	"github.com/lkimju1/v2n-subsync/internal/runner"
	"github.com/lkimju1/v2n-subsync/internal/settings"
	"github.com/lkimju1/v2n-subsync/internal/v2raynimport"
	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:      "v2n-subsync",
		Usage:     "sync a v2rayN subscription into per-node xray config files",
		ArgsUsage: "[subscription-url]",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "verbose logging",
			},
			&cli.BoolFlag{
				Name:    "dry-run",
				Aliases: []string{"n"},
				Usage:   "don't modify anything on disk",
			},
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "output directory",
				Value:   ".",
			},
			&cli.StringFlag{
				Name:    "user-agent",
				Aliases: []string{"A"},
				Usage:   "user-agent for the subscription request",
			},
			&cli.BoolFlag{
				Name:    "tls-override",
				Aliases: []string{"t"},
				Usage:   "also generate configs with the address replaced by the TLS server name",
			},
			&cli.IntFlag{
				Name:  "timeout",
				Usage: "fetch timeout in seconds",
				Value: 10,
			},
			&cli.StringFlag{
				Name:  "from-v2rayn",
				Usage: "v2rayN home path; sync every enabled subscription from its database",
			},
			&cli.StringFlag{
				Name:    "conf-dir",
				Aliases: []string{"c"},
				Usage:   "config directory",
				Value:   defaultConfDir(),
			},
		},
		Action: runSync,
	}

	if err := app.Run(os.Args); err != nil {
		exitErr(err)
	}
}

func runSync(c *cli.Context) error {
	level := applog.LevelInfo
	if c.Bool("verbose") {
		level = applog.LevelDebug
	}
	logger := applog.New(level)

	confDir := strings.TrimSpace(c.String("conf-dir"))
	defaults, err := settings.Load(confDir)
	if err != nil {
		return err
	}

	opts := runner.Options{
		OutDir:      c.String("output"),
		UserAgent:   c.String("user-agent"),
		Timeout:     time.Duration(c.Int("timeout")) * time.Second,
		DryRun:      c.Bool("dry-run"),
		TLSOverride: c.Bool("tls-override"),
	}
	if !c.IsSet("output") && defaults.Output != "" {
		opts.OutDir = defaults.Output
	}
	if !c.IsSet("user-agent") && defaults.UserAgent != "" {
		opts.UserAgent = defaults.UserAgent
	}
	if !c.IsSet("timeout") && defaults.TimeoutSeconds > 0 {
		opts.Timeout = time.Duration(defaults.TimeoutSeconds) * time.Second
	}
	if !c.IsSet("tls-override") && defaults.TLSOverride {
		opts.TLSOverride = true
	}

	if home := strings.TrimSpace(c.String("from-v2rayn")); home != "" {
		return syncFromV2rayN(home, opts, logger)
	}

	url := strings.TrimSpace(c.Args().First())
	if url == "" {
		return cli.Exit("subscription url is required (or use --from-v2rayn)", 2)
	}
	opts.URL = url
	_, err = runner.Run(opts, logger)
	return err
}

// syncFromV2rayN synchronizes each enabled subscription into its own
// subdirectory named after the sanitized remark.
func syncFromV2rayN(home string, opts runner.Options, logger *applog.Logger) error {
	subs, err := v2raynimport.LoadSubscriptions(home)
	if err != nil {
		return err
	}
	logger.Infof("found %d enabled subscriptions in %s", len(subs), home)
	for _, sub := range subs {
		subOpts := opts
		subOpts.URL = sub.URL
		subOpts.OutDir = filepath.Join(opts.OutDir, outdir.SanitizeName(sub.Remarks))
		logger.Infof("syncing subscription %q into %s", sub.Remarks, subOpts.OutDir)
		if _, err := runner.Run(subOpts, logger); err != nil {
			return fmt.Errorf("sync subscription %q: %w", sub.Remarks, err)
		}
	}
	return nil
}

func exitErr(err error) {
	fmt.Fprintln(os.Stderr, "error:", err)
	os.Exit(1)
}

func defaultConfDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ".v2n_subsync"
	}
	return filepath.Join(home, ".v2n_subsync")
}
