package cache

import (
	"context"
	"encoding/hex"
	stdErrors "errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/thomas-vilte/releasepipe/internal/errors"
	"github.com/zeebo/blake3"
	"golang.org/x/sync/errgroup"
)

// keyDomain separates cache keys from any other BLAKE3 keyed hash. Changing
// it invalidates every existing entry.
var keyDomain = [32]byte{
	'r', 'e', 'l', 'e', 'a', 's', 'e', 'p', 'i', 'p', 'e', '.',
	'c', 'a', 'c', 'h', 'e', '.', 'k', 'e', 'y',
}

// manifestDigest is the BLAKE3 digest of one dependency manifest. Absent
// manifests still contribute their name so adding one changes the key.
type manifestDigest struct {
	name    string
	present bool
	sum     [32]byte
}

// Key fingerprints the toolchain identity, target triple and the contents of
// the configured dependency manifests.
func (c *Cache) Key(ctx context.Context, toolchainIdentity, triple string) (string, error) {
	digests := make([]manifestDigest, len(c.manifests))

	g, ctx := errgroup.WithContext(ctx)
	for i, name := range c.manifests {
		g.Go(func() error {
			digest, err := hashManifest(ctx, filepath.Join(c.projectDir, name))
			if err != nil {
				return err
			}
			digest.name = name
			digests[i] = digest
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", errors.ErrCacheKey.WithError(err)
	}

	hasher, err := blake3.NewKeyed(keyDomain[:])
	if err != nil {
		return "", errors.ErrCacheKey.WithError(err)
	}

	writeField(hasher, "toolchain", []byte(toolchainIdentity))
	writeField(hasher, "target", []byte(triple))
	writeField(hasher, "compression", []byte(c.compression))
	for _, digest := range digests {
		if digest.present {
			writeField(hasher, digest.name, digest.sum[:])
		} else {
			writeField(hasher, digest.name, nil)
		}
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// writeField length-prefixes name and value so adjacent fields cannot alias.
func writeField(w io.Writer, name string, value []byte) {
	_, _ = fmt.Fprintf(w, "%d:%s%d:", len(name), name, len(value))
	_, _ = w.Write(value)
}

func hashManifest(ctx context.Context, path string) (manifestDigest, error) {
	if err := ctx.Err(); err != nil {
		return manifestDigest{}, err
	}

	file, err := os.Open(path)
	if err != nil {
		if stdErrors.Is(err, os.ErrNotExist) {
			return manifestDigest{}, nil
		}
		return manifestDigest{}, fmt.Errorf("opening %s for hashing: %w", path, err)
	}
	defer func() {
		_ = file.Close()
	}()

	hasher := blake3.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return manifestDigest{}, fmt.Errorf("hashing %s: %w", path, err)
	}

	digest := manifestDigest{present: true}
	copy(digest.sum[:], hasher.Sum(nil))
	return digest, nil
}
