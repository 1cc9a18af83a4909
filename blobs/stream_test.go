// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package blobs_test

import (
	"bytes"
	"io"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/require"

	"storj.io/common/testrand"

	"storj.io/blobdb/blobs"
)

func TestGzipStreamRoundTrip(t *testing.T) {
	for _, size := range []int{0, 1, blobs.GzipChunkSize - 1, blobs.GzipChunkSize, 3*blobs.GzipChunkSize + 17} {
		data := testrand.BytesInt(size)

		stream := blobs.NewGzipStream(bytes.NewReader(data))
		_, err := stream.ContentLength()
		require.True(t, blobs.ErrGzipStreamAttrAccessBeforeRead.Has(err))

		compressed, err := io.ReadAll(stream)
		require.NoError(t, err)

		length, err := stream.ContentLength()
		require.NoError(t, err)
		require.EqualValues(t, size, length)
		require.EqualValues(t, len(compressed), stream.CompressedLength())

		reader, err := gzip.NewReader(bytes.NewReader(compressed))
		require.NoError(t, err)
		decompressed, err := io.ReadAll(reader)
		require.NoError(t, err)
		require.Equal(t, data, decompressed)
	}
}

func TestGzipStreamSmallReads(t *testing.T) {
	data := bytes.Repeat([]byte("<form>value</form>"), 1000)
	stream := blobs.NewGzipStream(bytes.NewReader(data))

	var compressed bytes.Buffer
	buf := make([]byte, 7)
	for {
		n, err := stream.Read(buf)
		compressed.Write(buf[:n])
		if err == io.EOF {
			break
		}
		require.NoError(t, err)

		if compressed.Len() == 7 {
			_, err := stream.ContentLength()
			require.Error(t, err)
		}
	}

	length, err := stream.ContentLength()
	require.NoError(t, err)
	require.EqualValues(t, len(data), length)
	require.Less(t, compressed.Len(), len(data))

	reader, err := gzip.NewReader(&compressed)
	require.NoError(t, err)
	decompressed, err := io.ReadAll(reader)
	require.NoError(t, err)
	require.Equal(t, data, decompressed)
}

func TestBlobStream(t *testing.T) {
	compressed := int64(10)
	stream := blobs.NewBlobStream(io.NopCloser(bytes.NewReader([]byte("hello"))), nil, "key", 5, &compressed)

	require.Equal(t, "key", stream.Key())
	require.EqualValues(t, 5, stream.ContentLength())
	require.Equal(t, &compressed, stream.CompressedLength())
	require.False(t, stream.From(nil))

	pos, err := stream.Seek(0, io.SeekCurrent)
	require.NoError(t, err)
	require.Zero(t, pos)

	_, err = stream.Seek(0, io.SeekStart)
	require.Error(t, err)
	_, err = stream.Seek(1, io.SeekCurrent)
	require.Error(t, err)

	_, err = stream.Write([]byte("x"))
	require.Error(t, err)

	data, err := io.ReadAll(stream)
	require.NoError(t, err)
	require.Equal(t, "hello", string(data))
	require.NoError(t, stream.Close())
}

func TestGetRequestValidate(t *testing.T) {
	meta := &blobs.Meta{Key: "k", TypeCode: blobs.CodeFormXML}

	require.NoError(t, blobs.GetRequest{Key: "k", TypeCode: blobs.CodeMultimedia}.Validate())
	require.NoError(t, blobs.GetRequest{Meta: meta}.Validate())

	for _, req := range []blobs.GetRequest{
		{},
		{Key: "k"},
		{TypeCode: blobs.CodeMultimedia},
		{Key: "k", TypeCode: blobs.CodeFormXML},
		{Key: "k", TypeCode: blobs.CodeMultimedia, Meta: meta},
	} {
		err := req.Validate()
		require.True(t, blobs.ErrArgument.Has(err), "%+v", req)
	}

	key, code, compressed := blobs.GetRequest{Meta: meta}.Resolve()
	require.Equal(t, "k", key)
	require.Equal(t, blobs.CodeFormXML, code)
	require.Nil(t, compressed)
}
