// Package crashlog drains fatal-signal exception records left by
// supervised processes in the crash FIFO (spec §6.3). A sidecar outside
// this module's scope writes platform-specific register dumps there; this
// package only needs to recognize record boundaries by a magic prefix and
// the payload size carried in each record's header, then hand the opaque
// bytes to the error log.
package crashlog

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

// RecordMagic prefixes every exception record (spec §6.3: "magic prefix"),
// matching the original except.h's PCD_EXCEPTION_MAGIC.
const RecordMagic uint32 = 0x09CD0D0D

// MaxRecordBytes bounds a single record's opaque payload; a header
// declaring more is rejected.
const MaxRecordBytes = 4096

// Record is one drained exception report. Payload is platform-specific and
// opaque to this package; formatting it for the error log is the caller's
// job (spec §6.3: "treated as opaque bytes by the core").
type Record struct {
	Payload []byte
}

var errBadMagic = errors.New("crashlog: record has wrong magic")

// Reader drains magic-prefixed, size-prefixed records from the crash FIFO.
// It is not safe for concurrent use.
type Reader struct {
	path string
	file *os.File
	buf  *bufio.Reader
}

// Open opens the crash FIFO at path for non-blocking reads. The FIFO is
// expected to already exist (created by the sidecar or by the supervisor's
// own startup path via mkfifo); Open does not create it.
func Open(path string) (*Reader, error) {
	f, err := os.OpenFile(path, os.O_RDONLY|os.O_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("crashlog: open %s: %w", path, err)
	}
	return &Reader{path: path, file: f, buf: bufio.NewReader(f)}, nil
}

// Drain reads as many complete records as are currently available without
// blocking, up to max records, and returns them. Called once per tick from
// the supervisor's observational pass (spec §4: "Drain crash-reports from
// the crash FIFO").
func (r *Reader) Drain(max int) ([]Record, error) {
	var out []Record
	for len(out) < max {
		rec, err := r.readOne()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, errNoData) {
				return out, nil
			}
			return out, err
		}
		out = append(out, rec)
	}
	return out, nil
}

var errNoData = errors.New("crashlog: no data available")

func (r *Reader) readOne() (Record, error) {
	var header [8]byte
	n, err := io.ReadFull(r.buf, header[:])
	if err != nil {
		if n == 0 {
			return Record{}, errNoData
		}
		return Record{}, fmt.Errorf("crashlog: short header (%d bytes): %w", n, err)
	}

	magic := binary.LittleEndian.Uint32(header[0:4])
	size := binary.LittleEndian.Uint32(header[4:8])
	if magic != RecordMagic {
		return Record{}, errBadMagic
	}
	if size > MaxRecordBytes {
		return Record{}, fmt.Errorf("crashlog: record size %d exceeds cap %d", size, MaxRecordBytes)
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(r.buf, payload); err != nil {
		return Record{}, fmt.Errorf("crashlog: short payload: %w", err)
	}
	return Record{Payload: payload}, nil
}

// Close releases the FIFO's file descriptor.
func (r *Reader) Close() error {
	return r.file.Close()
}
