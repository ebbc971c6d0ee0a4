// Package wal implements the write-ahead log a live index shard uses to
// buffer inserted pages until they are committed into the segment store. It
// is exclusively owned by its live index; nothing else opens it.
//
// The on-disk format is a single append-only file of gob-encoded batches,
// each preceded by an 8-byte header holding the batch length and a CRC32 of
// the batch bytes. Iterate stops (without error) at the first record whose
// checksum fails to validate or whose bytes were cut short by a crash
// mid-write, so a
// truncated trailing record never blocks recovery — the same tolerance the
// HashiCorp raft-wal lineage this package is grounded on gives its own
// tail segment.
package wal

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dreamware/stract/internal/page"
)

const fileName = "wal.log"

// WAL is an append-only, crash-tolerant log of page batches. Append and
// Iterate both take mu, so they are safe to call concurrently and each
// waits for the other to finish.
type WAL struct {
	mu      sync.Mutex
	f       *os.File
	path    string
	logger  log.Logger
	metrics *metrics
}

type metrics struct {
	appends  prometheus.Counter
	appendsz prometheus.Histogram
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		appends: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stract_wal_appends_total",
			Help: "Number of WAL batch appends.",
		}),
		appendsz: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "stract_wal_append_pages",
			Help:    "Number of pages per WAL append batch.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}),
	}
	if reg != nil {
		reg.MustRegister(m.appends, m.appendsz)
	}
	return m
}

// Option configures an Open call.
type Option func(*WAL)

// WithLogger overrides the default no-op logger.
func WithLogger(l log.Logger) Option {
	return func(w *WAL) { w.logger = l }
}

// WithRegisterer registers WAL metrics against reg. A nil Registerer (the
// default) disables metrics entirely.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(w *WAL) { w.metrics = newMetrics(reg) }
}

// Open opens (creating if necessary) the WAL file under dir.
func Open(dir string, opts ...Option) (*WAL, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(filepath.Join(dir, fileName), os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	w := &WAL{
		f:      f,
		path:   filepath.Join(dir, fileName),
		logger: log.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.metrics == nil {
		w.metrics = newMetrics(nil)
	}
	return w, nil
}

// Append encodes pages as one batch record and appends it to the log. On
// return, pages are durable in the WAL but not yet searchable — that
// happens only once the owning live index commits them into the segment
// store.
func (w *WAL) Append(pages []page.Indexable) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(pages); err != nil {
		return err
	}
	payload := buf.Bytes()
	checksum := crc32.ChecksumIEEE(payload)

	var hdr [8]byte
	binary.BigEndian.PutUint32(hdr[0:4], uint32(len(payload)))
	binary.BigEndian.PutUint32(hdr[4:8], checksum)

	if _, err := w.f.Write(hdr[:]); err != nil {
		return err
	}
	if _, err := w.f.Write(payload); err != nil {
		return err
	}
	if err := w.f.Sync(); err != nil {
		return err
	}

	w.metrics.appends.Inc()
	w.metrics.appendsz.Observe(float64(len(pages)))
	level.Debug(w.logger).Log("msg", "wal append", "pages", len(pages), "bytes", len(payload))
	return nil
}

// Iterate reads every intact batch in order and returns their concatenated
// pages. A batch whose header or checksum doesn't validate — including a
// zero-length read at EOF, or a short read from a crash mid-write — ends
// iteration without error; everything read before it is still returned.
func (w *WAL) Iterate() ([]page.Indexable, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	f, err := os.Open(w.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var out []page.Indexable
	for {
		var hdr [8]byte
		n, err := io.ReadFull(r, hdr[:])
		if err != nil || n != len(hdr) {
			break // EOF or a truncated header: stop, keep what we have
		}
		length := binary.BigEndian.Uint32(hdr[0:4])
		wantCRC := binary.BigEndian.Uint32(hdr[4:8])

		payload := make([]byte, length)
		if _, err := io.ReadFull(r, payload); err != nil {
			level.Warn(w.logger).Log("msg", "wal: truncated trailing record, stopping", "err", err)
			break
		}
		if crc32.ChecksumIEEE(payload) != wantCRC {
			level.Warn(w.logger).Log("msg", "wal: checksum mismatch, stopping at corrupt record")
			break
		}

		var batch []page.Indexable
		if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(&batch); err != nil {
			level.Warn(w.logger).Log("msg", "wal: undecodable record, stopping", "err", err)
			break
		}
		out = append(out, batch...)
	}
	return out, nil
}

// Clear truncates the log, discarding all records. Called after a
// successful commit folds their contents into the segment store.
func (w *WAL) Clear() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.f.Truncate(0); err != nil {
		return err
	}
	if _, err := w.f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	return nil
}

// Close releases the underlying file handle.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.f.Close()
}
