// Package source reads OSM source data files.
//
// It validates and sniffs the file format, streams entities in file order to
// a [Visitor], and computes content fingerprints for cache keys. Supported
// formats are OSM XML and OSM PBF.
package source

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"os"
	"runtime"

	"github.com/paulmach/osm"
	"github.com/paulmach/osm/osmpbf"
	"github.com/paulmach/osm/osmxml"

	"github.com/matzehuels/tilecraft/pkg/errors"
)

// Format identifies a source data encoding.
type Format string

const (
	FormatXML Format = "osm"
	FormatPBF Format = "pbf"
)

// sniffSize is how many leading bytes are inspected to detect the format.
const sniffSize = 64

// Validate checks that path names a readable, non-empty file in a supported
// format and returns that format.
func Validate(path string) (Format, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return "", errors.New(errors.ErrCodeOSMProcessing, "source file not found: %s", path)
	}
	if err != nil {
		return "", errors.Wrap(errors.ErrCodeOSMProcessing, err, "stat source file")
	}
	if info.IsDir() {
		return "", errors.New(errors.ErrCodeOSMProcessing, "source path is a directory: %s", path)
	}
	if info.Size() == 0 {
		return "", errors.New(errors.ErrCodeOSMProcessing, "source file is empty: %s", path)
	}

	f, err := os.Open(path)
	if err != nil {
		return "", errors.Wrap(errors.ErrCodeOSMProcessing, err, "open source file")
	}
	defer f.Close()

	head := make([]byte, sniffSize)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.ErrUnexpectedEOF {
		return "", errors.Wrap(errors.ErrCodeOSMProcessing, err, "read source header")
	}
	format, ok := Sniff(head[:n])
	if !ok {
		return "", errors.New(errors.ErrCodeOSMProcessing, "unrecognized source format: %s", path)
	}
	return format, nil
}

// Sniff detects the format from the first bytes of a file.
func Sniff(head []byte) (Format, bool) {
	trimmed := bytes.TrimLeft(head, " \t\r\n\xef\xbb\xbf")
	if bytes.HasPrefix(trimmed, []byte("<?xml")) || bytes.HasPrefix(trimmed, []byte("<osm")) {
		return FormatXML, true
	}
	// A PBF file starts with a 4-byte big-endian header length followed by a
	// BlobHeader whose first field is the type string "OSMHeader".
	if len(head) > 5 && head[4] == 0x0a && bytes.Contains(head[:min(len(head), 24)], []byte("OSMHeader")) {
		return FormatPBF, true
	}
	return "", false
}

// Visitor receives entities in file order.
type Visitor interface {
	Visit(o osm.Object) error
}

// VisitorFunc adapts a function to the Visitor interface.
type VisitorFunc func(o osm.Object) error

// Visit calls fn(o).
func (fn VisitorFunc) Visit(o osm.Object) error { return fn(o) }

// Scanner streams a source file to a visitor.
type Scanner interface {
	Scan(ctx context.Context, path string, v Visitor) error
}

// FileScanner is the default Scanner backed by the osmxml and osmpbf readers.
type FileScanner struct {
	// Procs is the number of PBF decoding goroutines. Zero means GOMAXPROCS.
	Procs int
}

type objectScanner interface {
	Scan() bool
	Object() osm.Object
	Err() error
	Close() error
}

// Scan validates path and streams its nodes, ways and relations to v.
// Malformed content is reported as OSM_PROCESSING. Errors returned by v are
// passed through unchanged.
func (s FileScanner) Scan(ctx context.Context, path string, v Visitor) error {
	format, err := Validate(path)
	if err != nil {
		return err
	}

	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(errors.ErrCodeOSMProcessing, err, "open source file")
	}
	defer f.Close()

	var sc objectScanner
	switch format {
	case FormatPBF:
		procs := s.Procs
		if procs <= 0 {
			procs = runtime.GOMAXPROCS(0)
		}
		sc = osmpbf.New(ctx, f, procs)
	default:
		sc = osmxml.New(ctx, bufio.NewReaderSize(f, 1<<20))
	}
	defer sc.Close()

	for sc.Scan() {
		switch o := sc.Object().(type) {
		case *osm.Node, *osm.Way, *osm.Relation:
			if err := v.Visit(o); err != nil {
				return err
			}
		}
	}
	if err := sc.Err(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return errors.Wrap(errors.ErrCodeOSMProcessing, err, "read %s", path)
	}
	return ctx.Err()
}

// ScannerFunc adapts a function to the Scanner interface.
type ScannerFunc func(ctx context.Context, path string, v Visitor) error

// Scan calls fn(ctx, path, v).
func (fn ScannerFunc) Scan(ctx context.Context, path string, v Visitor) error {
	return fn(ctx, path, v)
}
