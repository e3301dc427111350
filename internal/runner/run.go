package runner

import (
	"time"

	"github.com/lkimju1/v2n-subsync/internal/applog"
	"github.com/lkimju1/v2n-subsync/internal/confgen"
	"github.com/lkimju1/v2n-subsync/internal/fetch"
	"github.com/lkimju1/v2n-subsync/internal/outdir"
	"github.com/lkimju1/v2n-subsync/internal/subscribe"
)

type Options struct {
	URL         string
	OutDir      string
	UserAgent   string
	Timeout     time.Duration
	DryRun      bool
	TLSOverride bool
}

type Summary struct {
	outdir.Summary
	Skipped int
}

// Run fetches the subscription and synchronizes the output directory.
func Run(opts Options, logger *applog.Logger) (Summary, error) {
	logger.Debugf("fetching subscription %s", opts.URL)
	raw, err := fetch.Subscription(opts.URL, opts.UserAgent, opts.Timeout)
	if err != nil {
		return Summary{}, err
	}
	return SyncFeed(raw, opts, logger)
}

// SyncFeed runs the pipeline over an already-fetched payload. Entry-level
// decode and synthesis failures are counted as skipped; feed-level and
// filesystem errors abort the run.
func SyncFeed(raw []byte, opts Options, logger *applog.Logger) (Summary, error) {
	endpoints, err := subscribe.DecodeFeed(raw, logger)
	if err != nil {
		return Summary{}, err
	}

	syncer, err := outdir.NewSyncer(opts.OutDir, opts.DryRun, logger)
	if err != nil {
		return Summary{}, err
	}

	skipped := 0
	for _, ep := range endpoints {
		doc, err := confgen.Synthesize(ep, logger)
		if err != nil {
			skipped++
			logger.Warnf("skipped: type=%s desc=%q: %v", ep.Type, ep.Desc, err)
			continue
		}
		content, err := doc.Encode()
		if err != nil {
			return Summary{}, err
		}
		if err := syncer.Write(ep.Desc, "", content); err != nil {
			return Summary{}, err
		}
		if !opts.TLSOverride {
			continue
		}
		alt, ok := doc.WithServerNameAddress()
		if !ok {
			continue
		}
		altContent, err := alt.Encode()
		if err != nil {
			return Summary{}, err
		}
		if err := syncer.Write(ep.Desc, "-tlsServ", altContent); err != nil {
			return Summary{}, err
		}
	}

	if err := syncer.Prune(); err != nil {
		return Summary{}, err
	}

	sum := Summary{Summary: syncer.Summary(), Skipped: skipped}
	prefix := ""
	if opts.DryRun {
		prefix = "(dryrun) "
	}
	logger.Infof("%ssummary: updated=%d deleted=%d current=%d skipped=%d",
		prefix, sum.Updated, sum.Deleted, sum.Current, sum.Skipped)
	return sum, nil
}
