// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package blobs

import (
	"crypto/rand"
	"encoding/base64"
)

// ShortIdentifierSize is the number of random bytes in a short identifier.
// 64 bits keeps collisions unlikely for the number of blobs attached to a single
// parent while keeping keys short.
const ShortIdentifierSize = 8

// keyRandomSize is the number of random bytes in the suffix of a generated key.
const keyRandomSize = 16

// RandomURLID returns n random bytes encoded as unpadded url-safe base64.
func RandomURLID(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}

// ShortIdentifier returns a random 64 bit identifier.
func ShortIdentifier() string {
	return RandomURLID(ShortIdentifierSize)
}

// NewKey generates a key for a blob owned by parentID.
func NewKey(parentID string) (string, error) {
	prefix, err := SafeID(parentID)
	if err != nil {
		return "", err
	}
	return prefix + "." + RandomURLID(keyRandomSize), nil
}
