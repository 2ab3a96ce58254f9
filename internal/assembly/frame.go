package assembly

import (
	"bytes"
	"context"
	"errors"
	"io"
)

const (
	readChunkSize = 4 << 10

	// MaxRecordBytes bounds a single record, terminator excluded.
	MaxRecordBytes = 4 << 20
)

// ErrRecordTooLong is returned when a record grows past MaxRecordBytes
// without a terminator.
var ErrRecordTooLong = errors.New("assembly: stream record too long")

// FrameReader splits transport chunks into newline-delimited records. A
// trailing fragment without a terminator is held until the next chunk.
type FrameReader struct {
	buf []byte
}

// Push appends a chunk and returns every record it completed, in order.
// A "\r\n" terminator is accepted and the "\r" is not part of the record.
// Records completed before an oversized one are returned with the error.
func (f *FrameReader) Push(chunk []byte) ([]string, error) {
	var records []string
	for len(chunk) > 0 {
		idx := bytes.IndexByte(chunk, '\n')
		if idx < 0 {
			if len(f.buf)+len(chunk) > MaxRecordBytes {
				f.buf = nil
				return records, ErrRecordTooLong
			}
			f.buf = append(f.buf, chunk...)
			break
		}
		if len(f.buf)+idx > MaxRecordBytes {
			f.buf = nil
			return records, ErrRecordTooLong
		}
		line := chunk[:idx]
		if len(f.buf) > 0 {
			f.buf = append(f.buf, line...)
			line = f.buf
		}
		records = append(records, string(bytes.TrimSuffix(line, []byte{'\r'})))
		f.buf = f.buf[:0]
		chunk = chunk[idx+1:]
	}
	return records, nil
}

// Close discards the incomplete trailing record; it can never be valid.
func (f *FrameReader) Close() {
	f.buf = nil
}

// ReadRecords drains r chunk by chunk and calls fn for every complete record.
// It returns nil on clean EOF, ctx.Err() on cancellation, ErrRecordTooLong, or
// the first read or callback error.
func ReadRecords(ctx context.Context, r io.Reader, fn func(record string) error) error {
	var frames FrameReader
	defer frames.Close()

	buf := make([]byte, readChunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := r.Read(buf)
		if n > 0 {
			records, pushErr := frames.Push(buf[:n])
			for _, record := range records {
				if cbErr := fn(record); cbErr != nil {
					return cbErr
				}
			}
			if pushErr != nil {
				return pushErr
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return err
		}
	}
}
