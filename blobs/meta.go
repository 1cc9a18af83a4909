// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package blobs

import (
	"strconv"
	"time"
)

// TypeCode enumerates the kinds of stored blobs.
type TypeCode int16

// Type codes. The zero value is reserved to mean "not specified".
const (
	CodeFormXML        TypeCode = 2
	CodeFormAttachment TypeCode = 3
	CodeApplication    TypeCode = 4
	CodeMultimedia     TypeCode = 5
	CodeDataExport     TypeCode = 6
	CodeDataImport     TypeCode = 7
	CodeTempfile       TypeCode = 8
	CodeInvoice        TypeCode = 9
	CodeRestore        TypeCode = 10
	CodeCaseAttachment TypeCode = 11
)

var typeCodeNames = map[TypeCode]string{
	CodeFormXML:        "form_xml",
	CodeFormAttachment: "form_attachment",
	CodeApplication:    "application",
	CodeMultimedia:     "multimedia",
	CodeDataExport:     "data_export",
	CodeDataImport:     "data_import",
	CodeTempfile:       "tempfile",
	CodeInvoice:        "invoice",
	CodeRestore:        "restore",
	CodeCaseAttachment: "case_attachment",
}

// String returns the name of the type code.
func (code TypeCode) String() string {
	if name, ok := typeCodeNames[code]; ok {
		return name
	}
	return "code_" + strconv.Itoa(int(code))
}

// Compressed reports whether blobs of this type are stored gzip encoded.
func (code TypeCode) Compressed() bool {
	return code == CodeFormXML
}

// CompressedLengthPending marks a compressed blob whose stored length has not been
// computed yet.
const CompressedLengthPending int64 = -1

// Meta is the metadata row describing one stored blob.
type Meta struct {
	ID       int64
	Domain   string
	ParentID string
	TypeCode TypeCode
	Key      string
	Name     string

	ContentLength int64
	// CompressedLength is nil when the blob is stored without compression.
	CompressedLength *int64
	ContentType      string
	Properties       map[string]any

	CreatedOn time.Time
	ExpiresOn *time.Time
}

// IsCompressed reports whether the payload is stored gzip encoded.
func (meta *Meta) IsCompressed() bool {
	return meta.CompressedLength != nil
}

// Saved reports whether the row has been persisted.
func (meta *Meta) Saved() bool {
	return meta.ID != 0
}

// StoredLength returns the number of bytes held by the backend.
func (meta *Meta) StoredLength() int64 {
	if meta.CompressedLength != nil && *meta.CompressedLength >= 0 {
		return *meta.CompressedLength
	}
	return meta.ContentLength
}

// Clone returns a deep copy of meta.
func (meta *Meta) Clone() *Meta {
	clone := *meta
	if meta.CompressedLength != nil {
		v := *meta.CompressedLength
		clone.CompressedLength = &v
	}
	if meta.ExpiresOn != nil {
		v := *meta.ExpiresOn
		clone.ExpiresOn = &v
	}
	if meta.Properties != nil {
		clone.Properties = make(map[string]any, len(meta.Properties))
		for k, v := range meta.Properties {
			clone.Properties[k] = v
		}
	}
	return &clone
}

// DeletedMeta is the tombstone kept for a deleted blob that never expired.
type DeletedMeta struct {
	ID        int64
	Domain    string
	ParentID  string
	Name      string
	Key       string
	TypeCode  TypeCode
	CreatedOn time.Time
	DeletedOn time.Time
}
