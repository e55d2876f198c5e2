// Package manifest builds path -> mtime snapshots of a directory tree.
//
// A Manifest is built fresh on every call: the Scanner keeps no state between
// scans, so it is safe to share one Scanner across concurrent requests.
package manifest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// Manifest maps a slash-separated root-relative file path to its
// modification time in seconds since the Unix epoch.
type Manifest map[string]int64

// Keys returns the manifest keys in lexical order.
func (m Manifest) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ScanError is returned when the scan root itself cannot be read.
type ScanError struct {
	Root string
	Err  error
}

func (e *ScanError) Error() string {
	return fmt.Sprintf("scan %s: %v", e.Root, e.Err)
}

func (e *ScanError) Unwrap() error {
	return e.Err
}

// Report is a manifest together with counters about the walk that built it.
type Report struct {
	Root     string
	Manifest Manifest
	// Pruned counts entries removed by exclusion rules (a pruned directory
	// counts once).
	Pruned int
	// Skipped counts entries dropped because their metadata or directory
	// listing could not be read during the walk.
	Skipped  int
	Started  time.Time
	Duration time.Duration
}

// Scanner walks a root directory and summarizes its regular files.
type Scanner struct {
	fs     afero.Fs
	rules  []Rule
	logger *zap.Logger
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithFs sets the filesystem the scanner walks. Defaults to the OS filesystem.
func WithFs(fs afero.Fs) Option {
	return func(s *Scanner) {
		s.fs = fs
	}
}

// WithRules appends exclusion rules after the defaults.
func WithRules(rules ...Rule) Option {
	return func(s *Scanner) {
		s.rules = append(s.rules, rules...)
	}
}

// WithLogger sets the logger used for per-entry debug output.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Scanner) {
		s.logger = logger
	}
}

// NewScanner creates a scanner with the default exclusion rules.
func NewScanner(opts ...Option) *Scanner {
	s := &Scanner{
		fs:     afero.NewOsFs(),
		rules:  DefaultRules(),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Scan returns the manifest of root. An unreadable root is a *ScanError and
// a cancelled ctx returns ctx.Err(); entries that vanish or cannot be
// stat'ed mid-walk are skipped.
func (s *Scanner) Scan(ctx context.Context, root string) (Manifest, error) {
	report, err := s.Run(ctx, root)
	if err != nil {
		return nil, err
	}
	return report.Manifest, nil
}

// Run scans root and returns the manifest with walk counters.
func (s *Scanner) Run(ctx context.Context, root string) (*Report, error) {
	root = normalizeRoot(root)
	report := &Report{
		Root:     root,
		Manifest: make(Manifest),
		Started:  time.Now(),
	}

	info, err := s.fs.Stat(root)
	if err != nil {
		return nil, &ScanError{Root: root, Err: err}
	}
	if !info.IsDir() {
		return nil, &ScanError{Root: root, Err: errors.New("not a directory")}
	}
	// Listing the root up front keeps a permission failure on the root
	// itself from looking like an empty tree.
	entries, err := afero.ReadDir(s.fs, root)
	if err != nil {
		return nil, &ScanError{Root: root, Err: err}
	}

	if err := s.walk(ctx, root, root, entries, report); err != nil {
		return nil, err
	}
	report.Duration = time.Since(report.Started)
	return report, nil
}

func (s *Scanner) walk(ctx context.Context, root, dir string, entries []os.FileInfo, report *Report) error {
	for _, fi := range entries {
		abs := filepath.Join(dir, fi.Name())
		rel, ok := relKey(root, abs)
		if !ok {
			report.Skipped++
			continue
		}

		entry := Entry{Name: fi.Name(), Rel: rel, IsDir: fi.IsDir()}
		if excluded(s.rules, entry) {
			report.Pruned++
			continue
		}

		if fi.IsDir() {
			if err := ctx.Err(); err != nil {
				return err
			}
			children, err := afero.ReadDir(s.fs, abs)
			if err != nil {
				s.logger.Debug("skip unreadable directory", zap.String("path", abs), zap.Error(err))
				report.Skipped++
				continue
			}
			if err := s.walk(ctx, root, abs, children, report); err != nil {
				return err
			}
			continue
		}

		mtime, ok := s.summarize(abs)
		if !ok {
			report.Skipped++
			continue
		}
		report.Manifest[rel] = mtime
	}
	return nil
}

// summarize stats a file entry and returns its mtime. The stat follows
// symlinks, so a link counts with its target's mtime; links to directories,
// broken links, vanished files and pre-epoch mtimes are rejected.
func (s *Scanner) summarize(abs string) (int64, bool) {
	fi, err := s.fs.Stat(abs)
	if err != nil {
		s.logger.Debug("skip unreadable entry", zap.String("path", abs), zap.Error(err))
		return 0, false
	}
	if !fi.Mode().IsRegular() {
		return 0, false
	}
	mtime := fi.ModTime().Unix()
	if mtime < 0 {
		return 0, false
	}
	return mtime, true
}

// normalizeRoot cleans root so it never carries a trailing separator
// (except for the filesystem root itself).
func normalizeRoot(root string) string {
	if root == "" {
		return "."
	}
	return filepath.Clean(root)
}

// relKey strips root from p and returns the slash-separated remainder.
// root must be normalized; the separator following it is stripped too, so
// keys never start with a slash.
func relKey(root, p string) (string, bool) {
	prefix := root
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	if root == "." {
		prefix = ""
		p = filepath.Clean(p)
	}
	if !strings.HasPrefix(p, prefix) || len(p) == len(prefix) {
		return "", false
	}
	return filepath.ToSlash(p[len(prefix):]), true
}
