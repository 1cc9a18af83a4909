// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package blobs

import (
	"bytes"
	"errors"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/zeebo/errs"
)

// GzipChunkSize is the number of bytes pulled from the source per compression step.
const GzipChunkSize = 4096

// GzipStream compresses its source while it is being read.
type GzipStream struct {
	source io.Reader
	chunk  []byte
	buffer bytes.Buffer
	writer *gzip.Writer

	contentLength    int64
	compressedLength int64
	closed           bool
}

// NewGzipStream returns a reader producing the gzip encoding of source.
func NewGzipStream(source io.Reader) *GzipStream {
	stream := &GzipStream{
		source: source,
		chunk:  make([]byte, GzipChunkSize),
	}
	stream.writer = gzip.NewWriter(&stream.buffer)
	return stream
}

// Read implements io.Reader.
func (stream *GzipStream) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for stream.buffer.Len() < len(p) && !stream.closed {
		if err := stream.fill(); err != nil {
			return 0, err
		}
	}
	if stream.buffer.Len() == 0 && stream.closed {
		return 0, io.EOF
	}
	n, _ := stream.buffer.Read(p)
	stream.compressedLength += int64(n)
	return n, nil
}

// fill compresses the next chunk of the source into the buffer.
func (stream *GzipStream) fill() error {
	n, err := stream.source.Read(stream.chunk)
	if n > 0 {
		stream.contentLength += int64(n)
		if _, werr := stream.writer.Write(stream.chunk[:n]); werr != nil {
			return werr
		}
	}
	if errors.Is(err, io.EOF) {
		stream.closed = true
		return stream.writer.Close()
	}
	return err
}

// ContentLength returns the number of uncompressed bytes consumed from the source.
// It fails until the source has been drained.
func (stream *GzipStream) ContentLength() (int64, error) {
	if !stream.closed {
		return 0, ErrGzipStreamAttrAccessBeforeRead.New("content length is unknown until the stream is read")
	}
	return stream.contentLength, nil
}

// CompressedLength returns the number of compressed bytes returned so far.
func (stream *GzipStream) CompressedLength() int64 { return stream.compressedLength }

// Close closes the source when it implements io.Closer.
func (stream *GzipStream) Close() error {
	if closer, ok := stream.source.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// ErrStreamNotWritable is returned by BlobStream.Write.
var ErrStreamNotWritable = errs.Class("blob stream")

// BlobStream is a read handle opened from a backend.
type BlobStream struct {
	io.ReadCloser

	origin           Backend
	key              string
	contentLength    int64
	compressedLength *int64
}

// NewBlobStream wraps rc, a payload of key opened from origin.
func NewBlobStream(rc io.ReadCloser, origin Backend, key string, contentLength int64, compressedLength *int64) *BlobStream {
	return &BlobStream{
		ReadCloser:       rc,
		origin:           origin,
		key:              key,
		contentLength:    contentLength,
		compressedLength: compressedLength,
	}
}

// Key returns the key of the blob.
func (stream *BlobStream) Key() string { return stream.key }

// ContentLength returns the logical length of the blob.
func (stream *BlobStream) ContentLength() int64 { return stream.contentLength }

// CompressedLength returns the stored length of the blob, or nil when it is not compressed.
func (stream *BlobStream) CompressedLength() *int64 { return stream.compressedLength }

// From reports whether the stream was opened from backend.
func (stream *BlobStream) From(backend Backend) bool {
	return stream.origin != nil && stream.origin == backend
}

// Write always fails.
func (stream *BlobStream) Write(p []byte) (int, error) {
	return 0, ErrStreamNotWritable.New("write not supported")
}

// Seek only supports querying the current position, which is reported as zero.
func (stream *BlobStream) Seek(offset int64, whence int) (int64, error) {
	if offset == 0 && whence == io.SeekCurrent {
		return 0, nil
	}
	return 0, ErrStreamNotWritable.New("seek not supported")
}
