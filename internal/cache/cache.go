package cache

import (
	"context"
	stdErrors "errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/thomas-vilte/releasepipe/internal/errors"
	"github.com/thomas-vilte/releasepipe/internal/logger"
)

const stagingPrefix = ".releasepipe-restore-"

// Entry is one stored build cache archive.
type Entry struct {
	Key         string
	Path        string
	Compression string
	Size        int64
	ModTime     time.Time
}

// Cache stores compressed snapshots of cargo's intermediate build outputs,
// keyed by toolchain, target and dependency manifests.
type Cache struct {
	dir         string
	projectDir  string
	compression string
	ttl         time.Duration
	paths       []string
	manifests   []string
}

type Option func(*Cache)

func WithProjectDir(dir string) Option {
	return func(c *Cache) {
		c.projectDir = dir
	}
}

func WithCompression(compression string) Option {
	return func(c *Cache) {
		if compression != "" {
			c.compression = compression
		}
	}
}

// WithTTL sets how long an entry stays usable. Zero disables expiry.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		c.ttl = ttl
	}
}

func WithPaths(paths ...string) Option {
	return func(c *Cache) {
		if len(paths) > 0 {
			c.paths = paths
		}
	}
}

func WithManifests(manifests ...string) Option {
	return func(c *Cache) {
		if len(manifests) > 0 {
			c.manifests = manifests
		}
	}
}

// DefaultPaths are the cargo output directories worth keeping between runs
// for one target. The final binary is left out so every run relinks it.
func DefaultPaths(triple string) []string {
	base := path.Join("target", triple, "release")
	return []string{
		path.Join(base, "deps"),
		path.Join(base, "build"),
		path.Join(base, ".fingerprint"),
	}
}

func NewCache(dir string, opts ...Option) (*Cache, error) {
	if dir == "" {
		return nil, fmt.Errorf("cache directory cannot be empty")
	}

	c := &Cache{
		dir:         dir,
		projectDir:  ".",
		compression: CompressionZstd,
		manifests:   []string{"Cargo.lock", "Cargo.toml"},
	}
	for _, opt := range opts {
		opt(c)
	}

	if !SupportedCompression(c.compression) {
		return nil, fmt.Errorf("unsupported cache compression: %s", c.compression)
	}
	for _, p := range c.paths {
		if !isAllowed(path.Clean(filepath.ToSlash(p)), []string{p}) {
			return nil, fmt.Errorf("cache path %q must be relative to the project", p)
		}
	}

	return c, nil
}

// Dir returns the directory entries are stored in.
func (c *Cache) Dir() string {
	return c.dir
}

// Restore unpacks the entry for key over the project. It reports false on a
// miss. Extraction goes to a staging directory first, so a corrupt archive
// never leaves half-restored outputs behind; the bad entry is removed.
func (c *Cache) Restore(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, errors.ErrCacheRestore.WithError(err)
	}
	if len(c.paths) == 0 {
		return false, nil
	}

	lock, err := lockDir(c.dir, false)
	if err != nil {
		return false, errors.ErrCacheLock.WithError(err)
	}
	defer lock.unlock()

	log := logger.FromContext(ctx)
	entryPath := c.entryPath(key)

	info, err := os.Stat(entryPath)
	if err != nil {
		if stdErrors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, errors.ErrCacheRestore.WithError(err).WithContext("key", key)
	}
	if c.expired(info.ModTime()) {
		log.Debug("cache entry expired", "key", key, "age", time.Since(info.ModTime()).Round(time.Second))
		_ = os.Remove(entryPath)
		return false, nil
	}

	staging, err := os.MkdirTemp(c.projectDir, stagingPrefix)
	if err != nil {
		return false, errors.ErrCacheRestore.WithError(err).WithContext("key", key)
	}
	defer func() {
		_ = os.RemoveAll(staging)
	}()

	if err := c.unpack(entryPath, staging); err != nil {
		log.Debug("removing unreadable cache entry", "path", entryPath)
		_ = os.Remove(entryPath)
		return false, errors.ErrCacheRestore.WithError(err).WithContext("key", key)
	}

	if err := c.swapIn(staging); err != nil {
		return false, errors.ErrCacheRestore.WithError(err).WithContext("key", key)
	}

	log.Debug("cache restored", "key", key, "bytes", info.Size())
	return true, nil
}

func (c *Cache) unpack(entryPath, staging string) error {
	file, err := os.Open(entryPath)
	if err != nil {
		return err
	}
	defer func() {
		_ = file.Close()
	}()

	reader, err := newDecompressor(c.compression, file)
	if err != nil {
		return err
	}
	defer func() {
		_ = reader.Close()
	}()

	return extractArchive(reader, staging, c.paths)
}

// swapIn replaces each configured path with its staged copy. Paths absent
// from the archive are left as they are.
func (c *Cache) swapIn(staging string) error {
	for _, rel := range c.paths {
		staged := filepath.Join(staging, filepath.FromSlash(rel))
		if _, err := os.Stat(staged); stdErrors.Is(err, os.ErrNotExist) {
			continue
		}

		target := filepath.Join(c.projectDir, filepath.FromSlash(rel))
		if err := os.RemoveAll(target); err != nil {
			return fmt.Errorf("clearing %s: %w", rel, err)
		}
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return err
		}
		if err := os.Rename(staged, target); err != nil {
			return fmt.Errorf("moving restored %s into place: %w", rel, err)
		}
	}
	return nil
}

// Save archives the configured paths under key. The archive is written to a
// temp file and renamed, so readers only ever see complete entries. Saving
// with nothing to archive is a no-op.
func (c *Cache) Save(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return errors.ErrCacheSave.WithError(err)
	}
	if len(c.paths) == 0 {
		return nil
	}

	lock, err := lockDir(c.dir, true)
	if err != nil {
		return errors.ErrCacheLock.WithError(err)
	}
	defer lock.unlock()

	log := logger.FromContext(ctx)

	tmp, err := os.CreateTemp(c.dir, key+"-*.tmp")
	if err != nil {
		return errors.ErrCacheSave.WithError(err).WithContext("key", key)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	writer, err := newCompressor(c.compression, tmp)
	if err != nil {
		return errors.ErrCacheSave.WithError(err)
	}

	files, err := writeArchive(writer, c.projectDir, c.paths)
	if err != nil {
		_ = writer.Close()
		return errors.ErrCacheSave.WithError(err).WithContext("key", key)
	}
	if err := writer.Close(); err != nil {
		return errors.ErrCacheSave.WithError(err).WithContext("key", key)
	}
	if files == 0 {
		log.Debug("nothing to cache", "paths", strings.Join(c.paths, ","))
		return nil
	}

	if err := tmp.Sync(); err != nil {
		return errors.ErrCacheSave.WithError(err)
	}
	if err := tmp.Close(); err != nil {
		return errors.ErrCacheSave.WithError(err)
	}
	if err := os.Rename(tmpPath, c.entryPath(key)); err != nil {
		return errors.ErrCacheSave.WithError(err).WithContext("key", key)
	}
	committed = true

	log.Debug("cache saved", "key", key, "files", files)
	return nil
}

// Entries lists stored archives, newest first.
func (c *Cache) Entries() ([]Entry, error) {
	dirEntries, err := os.ReadDir(c.dir)
	if err != nil {
		if stdErrors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("error reading cache directory: %w", err)
	}

	var entries []Entry
	for _, dirEntry := range dirEntries {
		if dirEntry.IsDir() {
			continue
		}
		key, compression, ok := parseEntryName(dirEntry.Name())
		if !ok {
			continue
		}
		info, err := dirEntry.Info()
		if err != nil {
			continue
		}
		entries = append(entries, Entry{
			Key:         key,
			Path:        filepath.Join(c.dir, dirEntry.Name()),
			Compression: compression,
			Size:        info.Size(),
			ModTime:     info.ModTime(),
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].ModTime.After(entries[j].ModTime)
	})
	return entries, nil
}

// CleanExpired removes entries older than the TTL and leftover temp files.
// It returns how many entries were removed.
func (c *Cache) CleanExpired() (int, error) {
	if _, err := os.Stat(c.dir); stdErrors.Is(err, os.ErrNotExist) {
		return 0, nil
	}

	lock, err := lockDir(c.dir, true)
	if err != nil {
		return 0, errors.ErrCacheLock.WithError(err)
	}
	defer lock.unlock()

	entries, err := c.Entries()
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, entry := range entries {
		if c.expired(entry.ModTime) {
			if err := os.Remove(entry.Path); err == nil {
				removed++
			}
		}
	}

	tmps, _ := filepath.Glob(filepath.Join(c.dir, "*.tmp"))
	for _, tmp := range tmps {
		_ = os.Remove(tmp)
	}

	return removed, nil
}

// Clean removes every entry and leftover temp file under the exclusive
// lock. The lock file itself stays so waiting runs keep queueing on it.
func (c *Cache) Clean() error {
	if _, err := os.Stat(c.dir); stdErrors.Is(err, os.ErrNotExist) {
		return nil
	}

	lock, err := lockDir(c.dir, true)
	if err != nil {
		return errors.ErrCacheLock.WithError(err)
	}
	defer lock.unlock()

	dirEntries, err := os.ReadDir(c.dir)
	if err != nil {
		return fmt.Errorf("error reading cache directory: %w", err)
	}
	for _, dirEntry := range dirEntries {
		if dirEntry.Name() == lockFileName {
			continue
		}
		if err := os.RemoveAll(filepath.Join(c.dir, dirEntry.Name())); err != nil {
			return fmt.Errorf("error removing %s: %w", dirEntry.Name(), err)
		}
	}
	return nil
}

func (c *Cache) entryPath(key string) string {
	return filepath.Join(c.dir, key+extensionFor(c.compression))
}

func (c *Cache) expired(modTime time.Time) bool {
	return c.ttl > 0 && time.Since(modTime) > c.ttl
}

func parseEntryName(name string) (string, string, bool) {
	for _, compression := range Compressions {
		ext := extensionFor(compression)
		if key, ok := strings.CutSuffix(name, ext); ok && key != "" && !strings.Contains(key, ".") {
			return key, compression, true
		}
	}
	return "", "", false
}
