package core

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"path/filepath"
)

// Batch sizes by file size. Smaller batches for larger files keep the number
// of rows held at once roughly proportional to available memory.
const (
	LargeFileBytes  = 50 << 20
	MediumFileBytes = 10 << 20

	LargeFileBatch  = 1000
	MediumFileBatch = 2000
	SmallFileBatch  = 5000
)

// ErrReaderConsumed is returned when a BatchReader is iterated a second time.
var ErrReaderConsumed = errors.New("batch reader already consumed")

// BatchSizeFor returns the batch size for a file of the given size.
func BatchSizeFor(size int64) int {
	switch {
	case size > LargeFileBytes:
		return LargeFileBatch
	case size > MediumFileBytes:
		return MediumFileBatch
	default:
		return SmallFileBatch
	}
}

// ParseIssue describes a record that could not be parsed.
type ParseIssue struct {
	File   string `json:"file"`
	Line   int    `json:"line"`
	Reason string `json:"reason"`
}

// BatchReader reads a delimited file with a header row and yields bounded
// batches of rows. It makes a single forward pass and cannot be restarted.
type BatchReader struct {
	path      string
	file      *os.File
	counter   *countingReader
	csv       *csv.Reader
	header    *Header
	batchSize int
	issues    []ParseIssue
	rows      int
	done      bool
	started   bool
}

// OpenBatches opens path for batched reading. A batchSize <= 0 selects the
// size from the file size. A missing file returns an error wrapping
// fs.ErrNotExist.
func OpenBatches(path string, batchSize int) (*BatchReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", filepath.Base(path), err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat %s: %w", filepath.Base(path), err)
	}
	if batchSize <= 0 {
		batchSize = BatchSizeFor(info.Size())
	}

	counter := wrapSource(f, info.Size())
	r := csv.NewReader(counter)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.ReuseRecord = false

	br := &BatchReader{
		path:      path,
		file:      f,
		counter:   counter,
		csv:       r,
		batchSize: batchSize,
	}

	if err := br.readHeader(); err != nil {
		f.Close()
		return nil, err
	}
	return br, nil
}

func (b *BatchReader) readHeader() error {
	for {
		rec, err := b.csv.Read()
		if err == io.EOF {
			b.header = NewHeader(nil)
			b.done = true
			return nil
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				b.issue(perr.Line, perr.Err.Error())
				continue
			}
			return fmt.Errorf("read header of %s: %w", filepath.Base(b.path), err)
		}
		if isBlankRecord(rec) {
			continue
		}
		b.header = NewHeader(rec)
		return nil
	}
}

// Header returns the file's header.
func (b *BatchReader) Header() *Header { return b.header }

// BatchSize returns the effective batch size.
func (b *BatchReader) BatchSize() int { return b.batchSize }

// Issues returns the parse problems seen so far.
func (b *BatchReader) Issues() []ParseIssue { return b.issues }

// RowsRead returns the number of rows yielded so far.
func (b *BatchReader) RowsRead() int { return b.rows }

// Progress returns the percentage of the file consumed.
func (b *BatchReader) Progress() int { return b.counter.Percent() }

// Next returns the next batch, or io.EOF once the file is exhausted.
// Malformed records are recorded as issues and skipped; short records are
// padded with empty values.
func (b *BatchReader) Next() ([]SourceRow, error) {
	if b.done {
		return nil, io.EOF
	}

	batch := make([]SourceRow, 0, b.batchSize)
	for len(batch) < b.batchSize {
		rec, err := b.csv.Read()
		if err == io.EOF {
			b.done = true
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				b.issue(perr.Line, perr.Err.Error())
				continue
			}
			b.done = true
			return batch, fmt.Errorf("read %s: %w", filepath.Base(b.path), err)
		}
		if isBlankRecord(rec) {
			continue
		}
		line, _ := b.csv.FieldPos(0)
		batch = append(batch, NewSourceRow(b.header, rec, line))
	}

	b.rows += len(batch)
	if len(batch) == 0 {
		return nil, io.EOF
	}
	return batch, nil
}

// Batches returns the remaining batches as a sequence. The sequence may be
// ranged over once; a second range yields ErrReaderConsumed.
func (b *BatchReader) Batches() iter.Seq2[[]SourceRow, error] {
	return func(yield func([]SourceRow, error) bool) {
		if b.started {
			yield(nil, ErrReaderConsumed)
			return
		}
		b.started = true
		for {
			batch, err := b.Next()
			if err == io.EOF {
				return
			}
			if !yield(batch, err) || err != nil {
				return
			}
		}
	}
}

// Close releases the underlying file.
func (b *BatchReader) Close() error {
	b.done = true
	return b.file.Close()
}

func (b *BatchReader) issue(line int, reason string) {
	b.issues = append(b.issues, ParseIssue{
		File:   filepath.Base(b.path),
		Line:   line,
		Reason: reason,
	})
}

func isBlankRecord(rec []string) bool {
	for _, v := range rec {
		if CleanCell(v) != "" {
			return false
		}
	}
	return true
}
