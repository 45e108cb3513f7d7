package cache

import (
	"archive/tar"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

const (
	CompressionZstd = "zstd"
	CompressionLZ4  = "lz4"
	CompressionNone = "none"
)

// Compressions lists the supported archive formats, preferred first.
var Compressions = []string{CompressionZstd, CompressionLZ4, CompressionNone}

// SupportedCompression reports whether compression names a known format.
func SupportedCompression(compression string) bool {
	return slices.Contains(Compressions, compression)
}

func extensionFor(compression string) string {
	switch compression {
	case CompressionZstd:
		return ".tar.zst"
	case CompressionLZ4:
		return ".tar.lz4"
	default:
		return ".tar"
	}
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

func newCompressor(compression string, w io.Writer) (io.WriteCloser, error) {
	switch compression {
	case CompressionZstd:
		return zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	case CompressionLZ4:
		return lz4.NewWriter(w), nil
	case CompressionNone:
		return nopWriteCloser{w}, nil
	default:
		return nil, fmt.Errorf("unsupported compression %q", compression)
	}
}

func newDecompressor(compression string, r io.Reader) (io.ReadCloser, error) {
	switch compression {
	case CompressionZstd:
		decoder, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		return decoder.IOReadCloser(), nil
	case CompressionLZ4:
		return io.NopCloser(lz4.NewReader(r)), nil
	case CompressionNone:
		return io.NopCloser(r), nil
	default:
		return nil, fmt.Errorf("unsupported compression %q", compression)
	}
}

// writeArchive tars the given project-relative paths. Missing paths are
// skipped; only directories and regular files are stored. It returns the
// number of files written.
func writeArchive(w io.Writer, root string, paths []string) (int, error) {
	tw := tar.NewWriter(w)
	files := 0

	for _, rel := range paths {
		base := filepath.Join(root, filepath.FromSlash(rel))
		if _, err := os.Lstat(base); os.IsNotExist(err) {
			continue
		}

		err := filepath.WalkDir(base, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && !d.Type().IsRegular() {
				return nil
			}

			info, err := d.Info()
			if err != nil {
				return err
			}

			name, err := filepath.Rel(root, p)
			if err != nil {
				return err
			}

			header, err := tar.FileInfoHeader(info, "")
			if err != nil {
				return err
			}
			header.Name = filepath.ToSlash(name)
			if d.IsDir() {
				header.Name += "/"
			}

			if err := tw.WriteHeader(header); err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}

			file, err := os.Open(p)
			if err != nil {
				return err
			}
			defer func() {
				_ = file.Close()
			}()

			if _, err := io.Copy(tw, file); err != nil {
				return err
			}
			files++
			return nil
		})
		if err != nil {
			return files, fmt.Errorf("archiving %s: %w", rel, err)
		}
	}

	return files, tw.Close()
}

// extractArchive unpacks into root. Every entry must stay inside one of the
// allowed project-relative paths. File mtimes are restored because cargo's
// freshness checks depend on them.
func extractArchive(r io.Reader, root string, allowed []string) error {
	tr := tar.NewReader(r)
	type dirTime struct {
		path    string
		modTime time.Time
	}
	var dirs []dirTime

	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("reading archive: %w", err)
		}

		name := path.Clean(strings.TrimSuffix(header.Name, "/"))
		if !isAllowed(name, allowed) {
			return fmt.Errorf("archive entry %q is outside the cached paths", header.Name)
		}
		target := filepath.Join(root, filepath.FromSlash(name))

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0755); err != nil {
				return err
			}
			dirs = append(dirs, dirTime{target, header.ModTime})
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return err
			}
			if err := writeFile(target, tr, header); err != nil {
				return err
			}
		default:
			// Only dirs and regular files are ever written.
			return fmt.Errorf("unexpected archive entry type %q for %s", header.Typeflag, header.Name)
		}
	}

	for i := len(dirs) - 1; i >= 0; i-- {
		_ = os.Chtimes(dirs[i].path, dirs[i].modTime, dirs[i].modTime)
	}
	return nil
}

func writeFile(target string, r io.Reader, header *tar.Header) error {
	file, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(header.Mode)&os.ModePerm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(file, r); err != nil {
		_ = file.Close()
		return fmt.Errorf("writing %s: %w", target, err)
	}
	if err := file.Close(); err != nil {
		return err
	}
	return os.Chtimes(target, header.ModTime, header.ModTime)
}

func isAllowed(name string, allowed []string) bool {
	if name == "." || path.IsAbs(name) || name == ".." || strings.HasPrefix(name, "../") {
		return false
	}
	for _, prefix := range allowed {
		prefix = path.Clean(filepath.ToSlash(prefix))
		if name == prefix || strings.HasPrefix(name, prefix+"/") {
			return true
		}
	}
	return false
}
