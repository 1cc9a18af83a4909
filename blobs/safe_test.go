// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package blobs_test

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"storj.io/blobdb/blobs"
)

func TestCheckSafeKey(t *testing.T) {
	for _, key := range []string{
		"abc",
		"form.xml",
		"parent/child/blob",
		"a,b_c-d.e",
		"{curly}/ok",
		"dots..inside",
		"x/..y",
	} {
		require.NoError(t, blobs.CheckSafeKey(key), key)
	}

	for _, key := range []string{
		"",
		"/abs",
		".hidden",
		"..",
		"a/../b",
		"a/..",
		"space here",
		"semi;colon",
		"back\\slash",
		"new\nline",
		"ünïcode",
	} {
		err := blobs.CheckSafeKey(key)
		require.Error(t, err, key)
		require.True(t, blobs.ErrBadName.Has(err), key)
	}
}

func TestSafeJoin(t *testing.T) {
	root := t.TempDir()

	path, err := blobs.SafeJoin(root, "a/b/c")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(root, "a", "b", "c"), path)

	path, err = blobs.SafeJoin(root, "a/../b")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(root, "b"), path)

	for _, sub := range []string{"..", "../x", "a/../../x", "/etc/passwd", "", "."} {
		_, err := blobs.SafeJoin(root, sub)
		require.Error(t, err, sub)
		require.True(t, blobs.ErrBadName.Has(err), sub)
	}

	// a sibling directory sharing the root as a name prefix is outside of root
	_, err = blobs.SafeJoin(root, "../"+filepath.Base(root)+"-other/x")
	require.True(t, blobs.ErrBadName.Has(err))
}

func TestSafeID(t *testing.T) {
	id, err := blobs.SafeID("abc-123_x.y,z")
	require.NoError(t, err)
	require.Equal(t, "abc-123_x.y,z", id)

	id, err = blobs.SafeID("has/slash")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(id, "sha1-"))
	require.Len(t, id, len("sha1-")+40)

	again, err := blobs.SafeID("has/slash")
	require.NoError(t, err)
	require.Equal(t, id, again)

	_, err = blobs.SafeID(id)
	require.True(t, blobs.ErrArgument.Has(err))
}

func TestNewKey(t *testing.T) {
	key, err := blobs.NewKey("parent")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(key, "parent."))
	require.NoError(t, blobs.CheckSafeKey(key))

	other, err := blobs.NewKey("parent")
	require.NoError(t, err)
	require.NotEqual(t, key, other)

	key, err = blobs.NewKey("../../etc")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(key, "sha1-"))
	require.NoError(t, blobs.CheckSafeKey(key))

	require.Len(t, blobs.ShortIdentifier(), 11)
	require.NotContains(t, blobs.RandomURLID(32), "=")
}
