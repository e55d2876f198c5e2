// Package namespace merges several on-disk roots into one logical URL tree.
//
// Mounts are consulted in ascending rank order and the first mount that
// holds the requested path answers it. Directory listings are never merged:
// a lower-priority mount only answers when every higher-priority mount
// misses. Every lookup stats the filesystem again, so adding or removing a
// file changes the answer on the next request.
package namespace

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"
)

// DefaultIndex is the document served for directory requests.
const DefaultIndex = "index.html"

var (
	ErrInvalidMount  = errors.New("invalid mount")
	ErrDuplicateRank = errors.New("duplicate mount rank")
)

// Mount is one physical directory exposed in the namespace.
type Mount struct {
	Name string
	// Root is the directory on disk.
	Root string
	// Prefix is the URL prefix the mount is exposed under; "" mounts at "/".
	Prefix string
	// Rank orders mounts; lower ranks win.
	Rank int
}

// Resolution is the answer for a logical path.
type Resolution struct {
	Mount Mount
	// Logical is the cleaned request path.
	Logical string
	// File is the slash-separated path of the file to serve inside the mount,
	// with a leading slash. For directory requests it names the index file.
	File string
	// Redirect is set when a directory was requested without a trailing
	// slash; the caller should redirect there instead of serving File.
	Redirect string
}

type mount struct {
	Mount
	fs afero.Fs
}

// Composer resolves logical paths against a rank-ordered mount list. It is
// immutable after New and safe for concurrent use.
type Composer struct {
	mounts []mount
	index  string
}

// Option configures a Composer.
type Option func(*options)

type options struct {
	source afero.Fs
	index  string
}

// WithSource sets the filesystem mount roots live on. Defaults to the OS filesystem.
func WithSource(fs afero.Fs) Option {
	return func(o *options) {
		o.source = fs
	}
}

// WithIndex sets the directory index document name.
func WithIndex(name string) Option {
	return func(o *options) {
		if name != "" {
			o.index = name
		}
	}
}

// New validates the mounts and orders them by rank.
func New(mounts []Mount, opts ...Option) (*Composer, error) {
	o := options{source: afero.NewOsFs(), index: DefaultIndex}
	for _, opt := range opts {
		opt(&o)
	}
	if strings.Contains(o.index, "/") {
		return nil, fmt.Errorf("index %q must be a file name", o.index)
	}

	c := &Composer{index: o.index}
	seen := make(map[int]string, len(mounts))
	for _, m := range mounts {
		if m.Root == "" {
			return nil, fmt.Errorf("%w: %s has no root", ErrInvalidMount, m.Name)
		}
		if other, dup := seen[m.Rank]; dup {
			return nil, fmt.Errorf("%w: %s and %s share rank %d", ErrDuplicateRank, other, m.Name, m.Rank)
		}
		seen[m.Rank] = m.Name
		root, err := filepath.Abs(m.Root)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidMount, m.Name, err)
		}
		m.Root = root
		m.Prefix = NormalizePrefix(m.Prefix)
		c.mounts = append(c.mounts, mount{Mount: m, fs: afero.NewBasePathFs(o.source, m.Root)})
	}
	sort.Slice(c.mounts, func(i, j int) bool {
		return c.mounts[i].Rank < c.mounts[j].Rank
	})
	return c, nil
}

// Mounts returns the mounts in resolution order.
func (c *Composer) Mounts() []Mount {
	out := make([]Mount, len(c.mounts))
	for i, m := range c.mounts {
		out[i] = m.Mount
	}
	return out
}

// Index returns the directory index document name.
func (c *Composer) Index() string {
	return c.index
}

// Exists reports whether a mount's root is currently a directory.
func (c *Composer) Exists(name string) bool {
	for _, m := range c.mounts {
		if m.Name == name {
			info, err := m.fs.Stat("/")
			return err == nil && info.IsDir()
		}
	}
	return false
}

// Resolve finds the mount that answers logical. The boolean is false when no
// mount holds the path; that is a normal outcome, not an error.
func (c *Composer) Resolve(logical string) (Resolution, bool) {
	clean := CleanPath(logical)
	wantsDir := strings.HasSuffix(logical, "/")

	for _, m := range c.mounts {
		rest, ok := m.match(clean)
		if !ok {
			continue
		}
		info, err := m.fs.Stat(rest)
		if err != nil {
			continue
		}

		if info.Mode().IsRegular() {
			return Resolution{Mount: m.Mount, Logical: clean, File: rest}, true
		}
		if !info.IsDir() {
			continue
		}

		// A directory only matches when it has an index document;
		// otherwise the next mount gets a chance. Rocket's NormalizeDirs
		// redirects even without an index; this deliberately does not.
		index := path.Join(rest, c.index)
		ii, err := m.fs.Stat(index)
		if err != nil || !ii.Mode().IsRegular() {
			continue
		}
		res := Resolution{Mount: m.Mount, Logical: clean, File: index}
		if !wantsDir && clean != "/" {
			res.Redirect = clean + "/"
		}
		return res, true
	}
	return Resolution{}, false
}

// Open opens the file named by a resolution. The file may have vanished
// since Resolve; callers treat os.ErrNotExist as not found.
func (c *Composer) Open(res Resolution) (afero.File, os.FileInfo, error) {
	for _, m := range c.mounts {
		if m.Name != res.Mount.Name || m.Rank != res.Mount.Rank {
			continue
		}
		f, err := m.fs.Open(res.File)
		if err != nil {
			return nil, nil, err
		}
		info, err := f.Stat()
		if err != nil {
			f.Close()
			return nil, nil, err
		}
		if !info.Mode().IsRegular() {
			f.Close()
			return nil, nil, os.ErrNotExist
		}
		return f, info, nil
	}
	return nil, nil, fmt.Errorf("%w: unknown mount %s", ErrInvalidMount, res.Mount.Name)
}

// match strips the mount prefix from a cleaned logical path.
func (m mount) match(clean string) (string, bool) {
	if m.Prefix == "/" {
		return clean, true
	}
	if clean == m.Prefix {
		return "/", true
	}
	if strings.HasPrefix(clean, m.Prefix+"/") {
		return clean[len(m.Prefix):], true
	}
	return "", false
}

// CleanPath returns the canonical form of a request path: rooted, with dot
// segments resolved and no trailing slash.
func CleanPath(p string) string {
	return path.Clean("/" + p)
}

// NormalizePrefix turns "", "/", "deps", "/deps/" into "/" or "/deps".
func NormalizePrefix(prefix string) string {
	return CleanPath(strings.Trim(prefix, "/"))
}
