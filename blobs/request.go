// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package blobs

// GetRequest selects a blob to read. Either Key and TypeCode, or Meta must be set.
type GetRequest struct {
	Key      string
	TypeCode TypeCode
	Meta     *Meta
}

// Validate checks the argument combination before any I/O happens.
func (req GetRequest) Validate() error {
	hasKey := req.Key != "" || req.TypeCode != 0
	switch {
	case hasKey && req.Meta != nil:
		return ErrArgument.New("key and type code cannot be combined with meta")
	case req.Meta == nil && (req.Key == "" || req.TypeCode == 0):
		return ErrArgument.New("key and type code, or meta, are required")
	case req.Meta == nil && req.TypeCode.Compressed():
		return ErrArgument.New("meta is required for %s blobs", req.TypeCode)
	}
	return nil
}

// Resolve returns the key, type code and compressed length selected by req.
func (req GetRequest) Resolve() (key string, code TypeCode, compressedLength *int64) {
	if req.Meta != nil {
		return req.Meta.Key, req.Meta.TypeCode, req.Meta.CompressedLength
	}
	return req.Key, req.TypeCode, nil
}
