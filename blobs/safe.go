// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package blobs

import (
	"crypto/sha1"
	"encoding/hex"
	"path/filepath"
	"regexp"
	"strings"
)

var (
	safeName = regexp.MustCompile(`^[a-zA-Z0-9_.,/{}\-]+$`)
	safeID   = regexp.MustCompile(`^[a-zA-Z0-9_.,\-]+$`)
	sha1ID   = regexp.MustCompile(`^sha1-[0-9a-f]{40}$`)
)

// CheckSafeKey verifies that key cannot escape a storage root when used as a
// relative path or object name.
func CheckSafeKey(key string) error {
	switch {
	case !safeName.MatchString(key):
		return ErrBadName.New("unsafe key: %q", key)
	case strings.HasPrefix(key, "/"), strings.HasPrefix(key, "."):
		return ErrBadName.New("unsafe key: %q", key)
	case strings.Contains(key, "/../"), strings.HasSuffix(key, "/.."):
		return ErrBadName.New("unsafe key: %q", key)
	}
	return nil
}

// SafeJoin joins sub onto root and fails when the cleaned result is not
// located strictly below root.
func SafeJoin(root, sub string) (string, error) {
	if filepath.IsAbs(sub) {
		return "", ErrBadName.New("absolute path %q", sub)
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", ErrBadName.Wrap(err)
	}
	joined := filepath.Join(absRoot, sub)
	if !strings.HasPrefix(joined, absRoot+string(filepath.Separator)) {
		return "", ErrBadName.New("path %q escapes %q", sub, root)
	}
	return joined, nil
}

// SafeID returns identifier when it is usable as a key prefix. Otherwise it
// returns "sha1-" followed by the hex digest of identifier.
//
// Identifiers that already have the digest form are rejected since they could
// collide with a hashed identifier.
func SafeID(identifier string) (string, error) {
	if !safeID.MatchString(identifier) {
		sum := sha1.Sum([]byte(identifier))
		return "sha1-" + hex.EncodeToString(sum[:]), nil
	}
	if sha1ID.MatchString(identifier) {
		return "", ErrArgument.New("illegal identifier: %q", identifier)
	}
	return identifier, nil
}
