package manifest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, root, rel string, mtime time.Time) string {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755), "mkdir %s", rel)
	require.NoError(t, os.WriteFile(path, []byte("dummy"), 0o644), "write %s", rel)
	require.NoError(t, os.Chtimes(path, mtime, mtime), "chtimes %s", rel)
	return path
}

func TestScan_Scenario(t *testing.T) {
	root := t.TempDir()
	base := time.Unix(1_600_000_000, 0)

	writeFile(t, root, "index.html", base)
	writeFile(t, root, ".hidden/secret.txt", base.Add(1*time.Second))
	writeFile(t, root, "node_modules/pkg/file.js", base.Add(2*time.Second))
	writeFile(t, root, "src/app.js", base.Add(3*time.Second))

	m, err := NewScanner().Scan(context.Background(), root)
	require.NoError(t, err)

	assert.Equal(t, Manifest{
		"index.html": base.Unix(),
		"src/app.js": base.Add(3 * time.Second).Unix(),
	}, m)
}

func TestScan_ExclusionsPruneAtAnyDepth(t *testing.T) {
	root := t.TempDir()
	now := time.Unix(1_700_000_000, 0)

	writeFile(t, root, "a/b/c/keep.txt", now)
	writeFile(t, root, "a/.git/HEAD", now)
	writeFile(t, root, "a/b/.env", now)
	writeFile(t, root, "a/b/node_modules/x/index.js", now)
	writeFile(t, root, "a/b/c/node_modules/deep/deeper/y.js", now)
	writeFile(t, root, ".config/settings.json", now)
	writeFile(t, root, "node_modules", now)

	report, err := NewScanner().Run(context.Background(), root)
	require.NoError(t, err)

	assert.Equal(t, []string{"a/b/c/keep.txt"}, report.Manifest.Keys())
	assert.Equal(t, 6, report.Pruned)
}

func TestScan_TrailingSeparatorProducesSameKeys(t *testing.T) {
	root := t.TempDir()
	now := time.Unix(1_650_000_000, 0)
	writeFile(t, root, "top.txt", now)
	writeFile(t, root, "dir/nested/file.css", now)

	s := NewScanner()
	plain, err := s.Scan(context.Background(), root)
	require.NoError(t, err)
	slashed, err := s.Scan(context.Background(), root+string(filepath.Separator))
	require.NoError(t, err)
	doubled, err := s.Scan(context.Background(), root+string(filepath.Separator)+string(filepath.Separator))
	require.NoError(t, err)

	assert.Equal(t, []string{"dir/nested/file.css", "top.txt"}, plain.Keys())
	assert.Equal(t, plain, slashed)
	assert.Equal(t, plain, doubled)
	for _, k := range plain.Keys() {
		assert.NotContains(t, k, root)
		assert.NotEqual(t, '/', rune(k[0]), "key %q has a leading separator", k)
	}
}

func TestScan_RepeatedScansAreIdentical(t *testing.T) {
	root := t.TempDir()
	for i, rel := range []string{"a.txt", "b/c.txt", "b/d/e.txt", "f/g.js"} {
		writeFile(t, root, rel, time.Unix(int64(1_500_000_000+i*60), 0))
	}

	s := NewScanner()
	first, err := s.Scan(context.Background(), root)
	require.NoError(t, err)
	second, err := s.Scan(context.Background(), root)
	require.NoError(t, err)

	assert.Len(t, first, 4)
	assert.Equal(t, first, second)
}

func TestScan_PicksUpChanges(t *testing.T) {
	root := t.TempDir()
	path := writeFile(t, root, "app.js", time.Unix(1_600_000_000, 0))

	s := NewScanner()
	before, err := s.Scan(context.Background(), root)
	require.NoError(t, err)

	later := time.Unix(1_600_000_500, 0)
	require.NoError(t, os.Chtimes(path, later, later))
	writeFile(t, root, "new.js", later)

	after, err := s.Scan(context.Background(), root)
	require.NoError(t, err)

	assert.Equal(t, int64(1_600_000_000), before["app.js"])
	assert.Equal(t, later.Unix(), after["app.js"])
	assert.Contains(t, after, "new.js")
	assert.NotContains(t, before, "new.js")
}

func TestScan_MissingRoot(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "does-not-exist")

	m, err := NewScanner().Scan(context.Background(), missing)
	require.Error(t, err)
	assert.Nil(t, m)

	var scanErr *ScanError
	require.True(t, errors.As(err, &scanErr))
	assert.Equal(t, missing, scanErr.Root)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestScan_RootIsFile(t *testing.T) {
	path := writeFile(t, t.TempDir(), "plain.txt", time.Now())

	_, err := NewScanner().Scan(context.Background(), path)
	var scanErr *ScanError
	require.ErrorAs(t, err, &scanErr)
}

func TestScan_UnreadableRoot(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permission bits are not enforced for root")
	}
	root := t.TempDir()
	writeFile(t, root, "file.txt", time.Now())
	require.NoError(t, os.Chmod(root, 0o000))
	t.Cleanup(func() { _ = os.Chmod(root, 0o755) })

	_, err := NewScanner().Scan(context.Background(), root)
	var scanErr *ScanError
	require.ErrorAs(t, err, &scanErr)
	assert.True(t, errors.Is(err, os.ErrPermission))
}

func TestScan_UnreadableSubdirIsSkipped(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permission bits are not enforced for root")
	}
	root := t.TempDir()
	now := time.Unix(1_600_000_000, 0)
	writeFile(t, root, "ok.txt", now)
	writeFile(t, root, "locked/secret.txt", now)
	locked := filepath.Join(root, "locked")
	require.NoError(t, os.Chmod(locked, 0o000))
	t.Cleanup(func() { _ = os.Chmod(locked, 0o755) })

	report, err := NewScanner().Run(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, []string{"ok.txt"}, report.Manifest.Keys())
	assert.Equal(t, 1, report.Skipped)
}

func TestScan_Symlinks(t *testing.T) {
	root := t.TempDir()
	now := time.Unix(1_600_000_000, 0)
	target := writeFile(t, root, "real/target.txt", now)
	writeFile(t, root, "dir/inner.txt", now)

	require.NoError(t, os.Symlink(target, filepath.Join(root, "link.txt")))
	require.NoError(t, os.Symlink(filepath.Join(root, "gone.txt"), filepath.Join(root, "broken.txt")))
	require.NoError(t, os.Symlink(filepath.Join(root, "dir"), filepath.Join(root, "dirlink")))

	report, err := NewScanner().Run(context.Background(), root)
	require.NoError(t, err)

	assert.Equal(t, []string{"dir/inner.txt", "link.txt", "real/target.txt"}, report.Manifest.Keys())
	assert.Equal(t, now.Unix(), report.Manifest["link.txt"])
	assert.Equal(t, 2, report.Skipped)
}

func TestScan_Cancelled(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "sub/file.txt", time.Now())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m, err := NewScanner().Scan(ctx, root)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, m)
}

func TestScan_MemFsAndExtraRules(t *testing.T) {
	fs := afero.NewMemMapFs()
	files := map[string]int64{
		"/site/index.html":        1_600_000_000,
		"/site/assets/app.js":     1_600_000_100,
		"/site/assets/app.js.map": 1_600_000_200,
		"/site/tmp/cache.bin":     1_600_000_300,
		"/site/docs/tmp/keep.md":  1_600_000_400,
	}
	for path, sec := range files {
		require.NoError(t, fs.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, afero.WriteFile(fs, path, []byte("x"), 0o644))
		ts := time.Unix(sec, 0)
		require.NoError(t, fs.Chtimes(path, ts, ts))
	}

	rules, invalid := GlobRules([]string{"**/*.map", "tmp/", " ", "[bad"})
	assert.Equal(t, []string{"[bad"}, invalid)

	m, err := NewScanner(WithFs(fs), WithRules(rules...)).Scan(context.Background(), "/site")
	require.NoError(t, err)

	assert.Equal(t, Manifest{
		"index.html":       1_600_000_000,
		"assets/app.js":    1_600_000_100,
		"docs/tmp/keep.md": 1_600_000_400,
	}, m)
}

func TestScan_PreEpochMtimeSkipped(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/root", 0o755))
	for path, ts := range map[string]time.Time{
		"/root/old.txt": time.Unix(-3600, 0),
		"/root/new.txt": time.Unix(1_600_000_000, 0),
	} {
		require.NoError(t, afero.WriteFile(fs, path, []byte("x"), 0o644))
		require.NoError(t, fs.Chtimes(path, ts, ts))
	}

	report, err := NewScanner(WithFs(fs)).Run(context.Background(), "/root")
	require.NoError(t, err)
	assert.Equal(t, []string{"new.txt"}, report.Manifest.Keys())
	assert.Equal(t, 1, report.Skipped)
}

func TestRelKey(t *testing.T) {
	sep := string(filepath.Separator)
	tests := []struct {
		name string
		root string
		path string
		want string
		ok   bool
	}{
		{"child", sep + "srv", sep + "srv" + sep + "a.txt", "a.txt", true},
		{"nested", sep + "srv", filepath.Join(sep+"srv", "a", "b.txt"), "a/b.txt", true},
		{"filesystem root", sep, sep + "a.txt", "a.txt", true},
		{"sibling with shared prefix", sep + "srv", sep + "srv2" + sep + "a.txt", "", false},
		{"root itself", sep + "srv", sep + "srv", "", false},
		{"relative root", ".", filepath.Join("a", "b.txt"), "a/b.txt", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := relKey(tt.root, tt.path)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
