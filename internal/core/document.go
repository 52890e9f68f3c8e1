package core

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
)

// Streaming defaults.
const (
	DefaultStreamThreshold = 1000
	DefaultChunkSize       = 500
)

// Document sections in output order.
const (
	SectionMetadata      = "metadata"
	SectionTemplates     = "templates"
	SectionTables        = "tables"
	SectionTableVersions = "table_versions"
	SectionAxes          = "axes"
	SectionOrdinates     = "ordinates"
	SectionCells         = "cells"
	SectionCellPositions = "cell_positions"
	SectionDimensions    = "dimensions"
	SectionVariables     = "variables"
	SectionMembers       = "members"
	SectionDomains       = "domains"
	SectionRelationships = "relationships"
	SectionLookups       = "lookup_indices"
)

// EntitySections lists the entity sections in output order.
var EntitySections = []string{
	SectionTemplates, SectionTables, SectionTableVersions, SectionAxes,
	SectionOrdinates, SectionCells, SectionCellPositions, SectionDimensions,
	SectionVariables, SectionMembers, SectionDomains,
}

// Entry is one key/value pair of a document section.
type Entry struct {
	Key   string
	Value any
}

// Document is the externally visible result of a run.
type Document struct {
	Metadata      *RunMetadata
	Entities      map[string][]*TargetRow
	Relationships []Entry
	LookupIndices []Entry
}

// SectionLen returns the number of entries of a section.
func (d *Document) SectionLen(section string) int {
	switch section {
	case SectionMetadata:
		return 1
	case SectionRelationships:
		return len(d.Relationships)
	case SectionLookups:
		return len(d.LookupIndices)
	}
	return len(d.Entities[section])
}

// DocumentOptions configures chunking.
type DocumentOptions struct {
	StreamThreshold int // sections with more entries are streamed
	ChunkSize       int
}

func (o DocumentOptions) withDefaults() DocumentOptions {
	if o.StreamThreshold <= 0 {
		o.StreamThreshold = DefaultStreamThreshold
	}
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultChunkSize
	}
	return o
}

// flusher matches http.Flusher.
type flusher interface{ Flush() }

type errFlusher interface{ Flush() error }

// DocumentWriter serializes documents. Large sections are written in
// chunks and flushed to the sink after each chunk; small sections are
// rendered into one buffer. Both paths share the entry encoder, so output is
// byte-identical regardless of chunking.
type DocumentWriter struct {
	sink   io.Writer
	w      *bufio.Writer
	opts   DocumentOptions
	chunks int
	bytes  int64
}

// NewDocumentWriter creates a writer for sink.
func NewDocumentWriter(sink io.Writer, opts DocumentOptions) *DocumentWriter {
	return &DocumentWriter{sink: sink, w: bufio.NewWriter(sink), opts: opts.withDefaults()}
}

// Chunks returns the number of streamed chunks written.
func (dw *DocumentWriter) Chunks() int { return dw.chunks }

// Bytes returns the number of bytes written.
func (dw *DocumentWriter) Bytes() int64 { return dw.bytes }

// Write serializes doc. ctx is checked between chunks.
func (dw *DocumentWriter) Write(ctx context.Context, doc *Document) error {
	if err := dw.put([]byte("{")); err != nil {
		return err
	}

	sections := make([]string, 0, len(EntitySections)+3)
	sections = append(sections, SectionMetadata)
	sections = append(sections, EntitySections...)
	sections = append(sections, SectionRelationships, SectionLookups)

	for i, name := range sections {
		if err := ctx.Err(); err != nil {
			return err
		}
		var head bytes.Buffer
		if i > 0 {
			head.WriteByte(',')
		}
		head.WriteByte('\n')
		if err := writeJSONValue(&head, name); err != nil {
			return err
		}
		head.WriteByte(':')
		if err := dw.put(head.Bytes()); err != nil {
			return err
		}

		var err error
		switch name {
		case SectionMetadata:
			err = dw.writeValue(doc.Metadata)
		case SectionRelationships:
			err = dw.writeEntries(ctx, doc.Relationships)
		case SectionLookups:
			err = dw.writeEntries(ctx, doc.LookupIndices)
		default:
			err = dw.writeEntries(ctx, rowEntries(doc.Entities[name]))
		}
		if err != nil {
			return fmt.Errorf("write section %s: %w", name, err)
		}
	}

	if err := dw.put([]byte("\n}\n")); err != nil {
		return err
	}
	return dw.flush()
}

func rowEntries(rows []*TargetRow) []Entry {
	out := make([]Entry, len(rows))
	for i, r := range rows {
		out[i] = Entry{Key: r.ID, Value: r}
	}
	return out
}

func (dw *DocumentWriter) writeValue(v any) error {
	var buf bytes.Buffer
	if err := writeJSONValue(&buf, v); err != nil {
		return err
	}
	return dw.put(buf.Bytes())
}

func (dw *DocumentWriter) writeEntries(ctx context.Context, entries []Entry) error {
	if len(entries) <= dw.opts.StreamThreshold {
		var buf bytes.Buffer
		buf.WriteByte('{')
		if err := renderEntries(&buf, entries, true); err != nil {
			return err
		}
		buf.WriteByte('}')
		return dw.put(buf.Bytes())
	}

	if err := dw.put([]byte("{")); err != nil {
		return err
	}
	for lo := 0; lo < len(entries); lo += dw.opts.ChunkSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		hi := min(lo+dw.opts.ChunkSize, len(entries))
		var buf bytes.Buffer
		if err := renderEntries(&buf, entries[lo:hi], lo == 0); err != nil {
			return err
		}
		if err := dw.put(buf.Bytes()); err != nil {
			return err
		}
		if err := dw.flush(); err != nil {
			return err
		}
		dw.chunks++
	}
	return dw.put([]byte("}"))
}

// renderEntries is the single entry encoder shared by both paths.
func renderEntries(buf *bytes.Buffer, entries []Entry, first bool) error {
	for i, e := range entries {
		if i > 0 || !first {
			buf.WriteByte(',')
		}
		if err := writeJSONValue(buf, e.Key); err != nil {
			return err
		}
		buf.WriteByte(':')
		if err := writeJSONValue(buf, e.Value); err != nil {
			return fmt.Errorf("entry %s: %w", e.Key, err)
		}
	}
	return nil
}

func (dw *DocumentWriter) put(p []byte) error {
	n, err := dw.w.Write(p)
	dw.bytes += int64(n)
	return err
}

func (dw *DocumentWriter) flush() error {
	if err := dw.w.Flush(); err != nil {
		return err
	}
	switch f := dw.sink.(type) {
	case flusher:
		f.Flush()
	case errFlusher:
		return f.Flush()
	}
	return nil
}
