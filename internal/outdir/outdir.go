package outdir

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/lkimju1/v2n-subsync/internal/applog"
)

var (
	stripRe    = regexp.MustCompile(`[^\w\s-]`)
	collapseRe = regexp.MustCompile(`[-\s]+`)

	// Files generated by this tool: fixed-width index, dash, .json suffix.
	// Anything else in the output directory is left alone.
	generatedRe = regexp.MustCompile(`^\d{3}-.*\.json$`)
)

// SanitizeName reduces a node description to a safe file-name fragment:
// everything outside word characters, spaces and hyphens is dropped, and
// runs of whitespace/hyphens collapse to a single hyphen.
func SanitizeName(s string) string {
	s = stripRe.ReplaceAllString(s, "")
	return collapseRe.ReplaceAllString(s, "-")
}

// Summary counts the filesystem effects of one run.
type Summary struct {
	Updated int
	Current int
	Deleted int
}

// Syncer writes generated documents into a directory and prunes the files
// no longer referenced by the current feed. Indices are assigned in Write
// order, one per produced file.
type Syncer struct {
	dir    string
	dryRun bool
	logger *applog.Logger

	next    int
	used    map[string]struct{}
	summary Summary
}

func NewSyncer(dir string, dryRun bool, logger *applog.Logger) (*Syncer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	return &Syncer{
		dir:    dir,
		dryRun: dryRun,
		logger: logger,
		used:   make(map[string]struct{}),
	}, nil
}

func (s *Syncer) dryRunPrefix() string {
	if s.dryRun {
		return "(dryrun) "
	}
	return ""
}

// Write stores one document under the next positional index. The file is
// only rewritten when its content differs from what is already on disk.
// suffix distinguishes sibling variants ("" or "-tlsServ").
func (s *Syncer) Write(desc, suffix string, content []byte) error {
	name := fmt.Sprintf("%03d-%s%s.json", s.next, SanitizeName(desc), suffix)
	s.next++
	s.used[name] = struct{}{}
	path := filepath.Join(s.dir, name)

	existing, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if bytes.Equal(existing, content) {
		s.summary.Current++
		s.logger.Debugf("already up-to-date: %s", path)
		return nil
	}

	if !s.dryRun {
		if err := os.WriteFile(path, content, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
	}
	s.summary.Updated++
	s.logger.Infof("%supdated: desc=%q path=%s", s.dryRunPrefix(), desc, path)
	return nil
}

// Prune removes every generated-looking file that this run did not produce.
func (s *Syncer) Prune() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("list output dir: %w", err)
	}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !generatedRe.MatchString(name) {
			continue
		}
		if _, ok := s.used[name]; ok {
			continue
		}
		path := filepath.Join(s.dir, name)
		if !s.dryRun {
			if err := os.Remove(path); err != nil {
				return fmt.Errorf("remove %s: %w", path, err)
			}
		}
		s.summary.Deleted++
		s.logger.Infof("%sdeleted: path=%s", s.dryRunPrefix(), path)
	}
	return nil
}

func (s *Syncer) Summary() Summary {
	return s.summary
}
