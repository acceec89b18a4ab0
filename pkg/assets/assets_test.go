// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package assets_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storj.io/hgloc/pkg/assets"
)

func TestSafeComponent(t *testing.T) {
	for _, tt := range []struct {
		in, out string
	}{
		{"glue", "glue"},
		{"dreamerdeo/finqa", "dreamerdeo_finqa"},
		{"microsoft/DialoGPT-medium", "microsoft_DialoGPT-medium"},
		{`a\b:c*d?e"f<g>h|i j`, "a_b_c_d_e_f_g_h_i_j"},
		{"", ""},
	} {
		assert.Equal(t, tt.out, assets.SafeComponent(tt.in), tt.in)
	}
}

func TestRestoreID(t *testing.T) {
	for _, tt := range []struct {
		in, out string
	}{
		{"glue", "glue"},
		{"dreamerdeo_finqa", "dreamerdeo/finqa"},
		{"microsoft_DialoGPT_medium", "microsoft_DialoGPT/medium"},
	} {
		assert.Equal(t, tt.out, assets.RestoreID(tt.in), tt.in)
	}
}

func TestIdentityDefaults(t *testing.T) {
	id := assets.Identity{Kind: assets.Dataset, ID: "glue"}
	assert.Equal(t, "default_config", id.ConfigOrDefault())
	assert.Equal(t, "default_revision", id.RevisionOrDefault())

	id.Config, id.Revision = "mnli", "main"
	assert.Equal(t, "mnli", id.ConfigOrDefault())
	assert.Equal(t, "main", id.RevisionOrDefault())
}

func TestVersionKeyRoundTrip(t *testing.T) {
	for _, id := range []assets.Identity{
		{Kind: assets.Dataset, ID: "glue"},
		{Kind: assets.Dataset, ID: "dreamerdeo/finqa", Config: "mnli", Revision: "main"},
		{Kind: assets.Model, ID: "microsoft/DialoGPT-medium", Revision: "abc123"},
		{Kind: assets.Model, ID: "weird---id", Config: "100%", Revision: "r---1"},
		{Kind: assets.Dataset, ID: "a-", Config: "b", Revision: "c"},
		{Kind: assets.Dataset, ID: "a", Config: "b--", Revision: "c"},
		{Kind: assets.Model, ID: "-a", Config: "-", Revision: "--"},
		{Kind: assets.Model, ID: "a", Config: "-b-", Revision: "----"},
	} {
		encoded := id.Key().Encode()

		parsed, err := assets.ParseVersionKey(encoded)
		require.NoError(t, err, encoded)
		assert.Equal(t, id, parsed.Identity(id.Kind), encoded)
	}
}

func TestVersionKeyEscaping(t *testing.T) {
	for _, tt := range []struct {
		key     assets.VersionKey
		encoded string
	}{
		{assets.VersionKey{ID: "a", Config: "b", Revision: "c"}, "a---b---c"},
		{assets.VersionKey{ID: "a---b", Config: "c", Revision: "d"}, "a%2d%2d%2db---c---d"},
		// a boundary hyphen must not fuse with the delimiter
		{assets.VersionKey{ID: "a-", Config: "b", Revision: "c"}, "a%2d---b---c"},
		{assets.VersionKey{ID: "a", Config: "b--", Revision: "c"}, "a---b-%2d---c"},
		{assets.VersionKey{ID: "a", Config: "-b", Revision: "c"}, "a---%2db---c"},
	} {
		encoded := tt.key.Encode()
		assert.Equal(t, tt.encoded, encoded)

		parsed, err := assets.ParseVersionKey(encoded)
		require.NoError(t, err, encoded)
		assert.Equal(t, tt.key, parsed, encoded)
	}
}

func TestParseVersionKeyInvalid(t *testing.T) {
	for _, in := range []string{"", "only", "a---b", "a---b---c---d"} {
		_, err := assets.ParseVersionKey(in)
		require.Error(t, err, in)
		assert.True(t, assets.ErrInvalidKey.Has(err), in)
	}
}

func TestKindLayoutNames(t *testing.T) {
	assert.Equal(t, "datasets", assets.Dataset.Dir())
	assert.Equal(t, "models", assets.Model.Dir())
	assert.Equal(t, "", assets.Dataset.RemoteBase())
	assert.Equal(t, "models", assets.Model.RemoteBase())
}
