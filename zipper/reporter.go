// Package zipper provides the progress-reporting collaborator used during bulk extraction.
package zipper

import (
	"io"
	"log"
)

// ProgressReporter is called to provide updates while extracting an entry from an archive.
//
//   - src: name of the entry inside the archive being extracted
//   - dst: path on the filesystem the entry is being written to
//   - written: number of bytes of the entry that have been decompressed and written to dst so far
//   - done: true only when the entry has been written to the filesystem in its entirety
//
// The reporter is called at least once per entry. A small entry that fits into a single copy buffer triggers
// two calls: one with done set to false after its single write, and one with done set to true on Close.
type ProgressReporter func(src, dst string, written int64, done bool)

// DefaultProgressReporter logs once an entry has been fully extracted.
func DefaultProgressReporter(src, dst string, written int64, done bool) {
	if done {
		log.Printf(`%s => %s`, src, dst)
	}
}

// NoOpProgressReporter discards every update.
func NoOpProgressReporter(src, dst string, written int64, done bool) {
}

// CreateWriter returns an io.WriteCloser that reports every write through r and reports once more, with done set
// to true, on Close.
//
// The writer never writes bytes anywhere itself; pair it with io.MultiWriter alongside the real destination
// writer so both receive every write.
func (r ProgressReporter) CreateWriter(src, dst string) io.WriteCloser {
	return &progressReporterWriter{r, src, dst, 0}
}

type progressReporterWriter struct {
	ProgressReporter
	src, dst string
	written  int64
}

func (w *progressReporterWriter) Write(data []byte) (int, error) {
	n := len(data)
	w.written += int64(n)
	w.ProgressReporter(w.src, w.dst, w.written, false)
	return n, nil
}

func (w *progressReporterWriter) Close() error {
	w.ProgressReporter(w.src, w.dst, w.written, true)
	return nil
}
