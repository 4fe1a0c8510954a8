// Package delivery streams licensed content back to the caller: a single
// file with a known length, or a ZIP archive of a pack built incrementally
// so the whole archive never sits in memory or on temp disk.
package delivery

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/atomic"
)

// ErrContentMissing means a licensed sample's backing file could not be
// located. It never retracts the license; delivery can be retried once the
// file is restored.
var ErrContentMissing = errors.New("content file missing")

type Streamer struct {
	root string

	archives      atomic.Int64
	bytesStreamed atomic.Int64
}

func New(root string) *Streamer {
	return &Streamer{root: root}
}

// resolve maps a stored filename to a path under the content root. Only the
// base name is honored: locators come from the catalog, but flattening them
// keeps a corrupted catalog row from reaching outside the root.
func (s *Streamer) resolve(locator string) (string, error) {
	name := filepath.Base(locator)
	if name == "" || name == "." || name == ".." || name == string(filepath.Separator) {
		return "", fmt.Errorf("%q: %w", locator, ErrContentMissing)
	}
	return filepath.Join(s.root, name), nil
}

// Single opens one sample for streaming and reports its size up front so
// the caller can set Content-Length. The caller drains and closes the
// reader exactly once.
func (s *Streamer) Single(ctx context.Context, locator string) (io.ReadCloser, int64, error) {
	path, err := s.resolve(locator)
	if err != nil {
		return nil, 0, err
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, fmt.Errorf("%q: %w", locator, ErrContentMissing)
		}
		return nil, 0, fmt.Errorf("opening %q: %w", locator, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("stating %q: %w", locator, err)
	}

	return &countingReader{ReadCloser: f, ctx: ctx, counter: &s.bytesStreamed}, info.Size(), nil
}

// Archive writes a ZIP of the given locators to w, one entry per locator
// named by its stored filename, compressing each source as it is read. Any
// missing or unreadable source aborts the whole delivery: the ZIP central
// directory is only written on success, so a consumer can always tell a
// failed archive from a complete one. Cancelling ctx stops the stream and
// releases the current file handle.
func (s *Streamer) Archive(ctx context.Context, w io.Writer, locators []string) error {
	zw := zip.NewWriter(w)
	for _, locator := range locators {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.addEntry(ctx, zw, locator); err != nil {
			return err
		}
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("finalizing archive: %w", err)
	}
	s.archives.Inc()
	return nil
}

func (s *Streamer) addEntry(ctx context.Context, zw *zip.Writer, locator string) error {
	path, err := s.resolve(locator)
	if err != nil {
		return err
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%q: %w", locator, ErrContentMissing)
		}
		return fmt.Errorf("opening %q: %w", locator, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stating %q: %w", locator, err)
	}

	entry, err := zw.CreateHeader(&zip.FileHeader{
		Name:     filepath.Base(locator),
		Method:   zip.Deflate,
		Modified: info.ModTime(),
	})
	if err != nil {
		return fmt.Errorf("creating entry %q: %w", locator, err)
	}

	n, err := io.Copy(entry, &countingReader{ReadCloser: f, ctx: ctx, counter: &s.bytesStreamed})
	if err != nil {
		return fmt.Errorf("streaming %q after %d bytes: %w", locator, n, err)
	}
	return nil
}

// Stats reports how many archives and bytes this streamer has served.
func (s *Streamer) Stats() (archives, bytes int64) {
	return s.archives.Load(), s.bytesStreamed.Load()
}

// countingReader tallies streamed bytes and stops early when the caller's
// context is cancelled, so a disconnected download does not keep reading
// from disk.
type countingReader struct {
	io.ReadCloser
	ctx     context.Context
	counter *atomic.Int64
}

func (r *countingReader) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	n, err := r.ReadCloser.Read(p)
	r.counter.Add(int64(n))
	return n, err
}
