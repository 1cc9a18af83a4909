// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package metadb

import (
	"database/sql"
	"encoding/json"
	"time"

	"storj.io/blobdb/blobs"
)

const metaColumns = `id, domain, parent_id, type_code, key, name, content_length,
	compressed_length, content_type, properties, created_on, expires_on`

type scanner interface {
	Scan(dest ...any) error
}

func scanMeta(row scanner) (*blobs.Meta, error) {
	var (
		meta             blobs.Meta
		typeCode         int64
		compressedLength sql.NullInt64
		contentType      sql.NullString
		properties       sql.NullString
		expiresOn        sql.NullTime
	)
	err := row.Scan(
		&meta.ID, &meta.Domain, &meta.ParentID, &typeCode, &meta.Key, &meta.Name, &meta.ContentLength,
		&compressedLength, &contentType, &properties, &meta.CreatedOn, &expiresOn,
	)
	if err != nil {
		return nil, err
	}

	meta.TypeCode = blobs.TypeCode(typeCode)
	meta.CreatedOn = meta.CreatedOn.UTC()
	meta.ContentType = contentType.String
	if compressedLength.Valid {
		meta.CompressedLength = &compressedLength.Int64
	}
	if expiresOn.Valid {
		t := expiresOn.Time.UTC()
		meta.ExpiresOn = &t
	}
	if properties.Valid && properties.String != "" {
		if err := json.Unmarshal([]byte(properties.String), &meta.Properties); err != nil {
			return nil, Error.New("invalid properties of %q: %w", meta.Key, err)
		}
	}
	return &meta, nil
}

func scanMetas(rows *sql.Rows) (metas []*blobs.Meta, err error) {
	for rows.Next() {
		meta, err := scanMeta(rows)
		if err != nil {
			return nil, err
		}
		metas = append(metas, meta)
	}
	return metas, rows.Err()
}

// encodeProperties stores empty property maps as NULL.
func encodeProperties(properties map[string]any) (sql.NullString, error) {
	if len(properties) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(properties)
	if err != nil {
		return sql.NullString{}, Error.Wrap(err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: timestamp(*t), Valid: true}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
