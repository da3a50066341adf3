package z

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/nguyengg/ziparchive/zipper"
	"github.com/nguyengg/ziparchive/util"
)

// DefaultExtractBufferSize is the default size of the buffer used to copy an entry's decompressed bytes to disk.
const DefaultExtractBufferSize = 32 * 1024

// ExtractOptions customises Archive.Extract.
type ExtractOptions struct {
	// ProgressReporter controls how progress is reported. By default, zipper.NoOpProgressReporter is used.
	ProgressReporter zipper.ProgressReporter

	// BufferSize is the length of the buffer used to copy each entry's bytes. Defaults to DefaultExtractBufferSize.
	BufferSize int

	// NoOverwrite skips (rather than truncates) a file that already exists at the target path.
	NoOverwrite bool
}

// Extract walks every entry in the archive and writes it under root, creating directories as needed.
//
// Grounded on original_source/src/read/tokio.rs's ZipArchive::extract: a background task drains a channel of
// directory-creation batches sent by the foreground loop, which otherwise only concerns itself with copying
// entry bytes. The channel buffers up to 64 batches; a send blocks only when the directory worker is that far
// behind, and it is not unbounded. Closing it once the foreground loop finishes is what lets the background task
// observe completion and lets this function join on it before returning.
func (a *Archive) Extract(ctx context.Context, root string, optFns ...func(*ExtractOptions)) error {
	opts := &ExtractOptions{
		ProgressReporter: zipper.NoOpProgressReporter,
		BufferSize:       DefaultExtractBufferSize,
	}
	for _, fn := range optFns {
		fn(opts)
	}

	if err := os.MkdirAll(root, 0o755); err != nil {
		return fmt.Errorf("create output directory error: %w", err)
	}

	cp := newCompletedPaths(root)

	dirCh := make(chan []string, 64)
	var (
		wg      sync.WaitGroup
		dirErr  error
		dirOnce sync.Once
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		for dirs := range dirCh {
			if err := cp.writeDirs(dirs); err != nil {
				dirOnce.Do(func() { dirErr = err })
			}
		}
	}()

	buf := make([]byte, opts.BufferSize)

	var loopErr error
loop:
	for entry, err := range a.EntriesStream() {
		select {
		case <-ctx.Done():
			loopErr = ctx.Err()
			break loop
		default:
		}

		if err != nil {
			loopErr = err
			break loop
		}

		m := entry.Metadata()
		fullPath, err := sanitizeEntryPath(root, m.Name)
		if err != nil {
			_ = entry.Close()
			loopErr = err
			break loop
		}

		if isDirEntry(m.Name) {
			_ = entry.Close()
			select {
			case dirCh <- []string{fullPath}:
			case <-ctx.Done():
				loopErr = ctx.Err()
				break loop
			}
			continue
		}

		if needed := cp.newContainingDirsNeeded(fullPath); len(needed) > 0 {
			select {
			case dirCh <- needed:
			case <-ctx.Done():
				_ = entry.Close()
				loopErr = ctx.Err()
				break loop
			}
		}

		if err = a.extractOne(ctx, entry, fullPath, m, buf, cp, opts); err != nil {
			loopErr = err
			break loop
		}
	}

	close(dirCh)
	wg.Wait()

	if loopErr != nil {
		return loopErr
	}
	return dirErr
}

// extractOne copies one entry's decompressed bytes to fullPath, self-healing once if the immediately containing
// directory does not exist yet (the background directory worker may not have caught up with a freshly
// discovered ancestor), per the retry described in tokio.rs's ZipFile::extract_single.
func (a *Archive) extractOne(ctx context.Context, entry *EntryReader, fullPath string, m *EntryMetadata, buf []byte, cp *completedPaths, opts *ExtractOptions) error {
	defer entry.Close()

	flag := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if opts.NoOverwrite {
		flag = os.O_WRONLY | os.O_CREATE | os.O_EXCL
	}

	dst, err := os.OpenFile(fullPath, flag, 0o644)
	if errors.Is(err, os.ErrNotExist) {
		dir := filepath.Dir(fullPath)
		if mkErr := os.MkdirAll(dir, 0o755); mkErr != nil {
			return fmt.Errorf("create parent directory (path=%s) error: %w", dir, mkErr)
		}
		cp.markSeen(dir)
		dst, err = os.OpenFile(fullPath, flag, 0o644)
	}
	if errors.Is(err, os.ErrExist) && opts.NoOverwrite {
		return nil
	}
	if err != nil {
		return fmt.Errorf("create file (path=%s) error: %w", fullPath, err)
	}
	defer dst.Close()

	w := opts.ProgressReporter.CreateWriter(m.Name, fullPath)
	defer w.Close()

	if _, err = util.CopyBufferWithContext(ctx, io.MultiWriter(dst, w), entry, buf); err != nil {
		return fmt.Errorf("extract file (name=%s) error: %w", m.Name, err)
	}

	return nil
}

// isDirEntry reports whether a central-directory name denotes a directory entry, the zip convention of a
// trailing slash rather than a dedicated flag.
func isDirEntry(name string) bool {
	return len(name) > 0 && name[len(name)-1] == '/'
}
