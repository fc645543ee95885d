package manifest

import (
	stderr "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/assetpipe/assetpipe/pkg/errors"
	"github.com/assetpipe/assetpipe/pkg/types"
)

func TestDecode(t *testing.T) {
	raw := map[string]any{
		"version": "2",
		"assets": []any{
			map[string]any{"id": "sprite1", "url": "sprite1.png", "type": "image", "group": "player", "priority": "critical"},
			map[string]any{"id": 7, "url": "data1.json", "type": "json"},
		},
	}

	m, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, "2", m.Version)
	require.Len(t, m.Assets, 2)
	assert.Equal(t, Entry{ID: "sprite1", URL: "sprite1.png", Type: "image", Group: "player", Priority: types.PriorityCritical}, m.Assets[0])
	assert.Equal(t, "7", m.Assets[1].ID)
	require.NoError(t, m.Validate())
}

func TestDecode_Invalid(t *testing.T) {
	for _, raw := range []any{nil, "not a manifest", map[string]any{"assets": "nope"}} {
		_, err := Decode(raw)
		assert.ErrorIs(t, err, errors.ErrInvalidManifest)
	}
}

func TestDecode_Passthrough(t *testing.T) {
	m := &Manifest{Assets: []Entry{{ID: "a", URL: "a", Type: "json"}}}
	got, err := Decode(m)
	require.NoError(t, err)
	assert.Equal(t, m, got)
	assert.NotSame(t, m, got)

	m.Assets[0].URL = "changed"
	assert.Equal(t, "a", got.Assets[0].URL)
}

func TestValidate(t *testing.T) {
	m := &Manifest{Assets: []Entry{
		{ID: "a", URL: "a.png", Type: "image"},
		{ID: "a", URL: "b.png", Type: "image"},
		{ID: "", URL: "", Type: ""},
	}}

	err := m.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrInvalidManifest)
	assert.Contains(t, err.Error(), `duplicate id "a"`)
	assert.Contains(t, err.Error(), "assets[2]: missing url")
	assert.True(t, stderr.Is(err, errors.ErrInvalidManifest))
}

func TestFindAndGroups(t *testing.T) {
	m := &Manifest{Assets: []Entry{
		{ID: "sprite1", URL: "s1.png", Type: "image", Group: "player"},
		{ID: "data1", URL: "d1.json", Type: "json", Group: "config"},
		{ID: "sprite2", URL: "s2.png", Type: "image", Group: "player"},
		{ID: "loose", URL: "l.png", Type: "image"},
	}}

	e, ok := m.Find("data1")
	require.True(t, ok)
	assert.Equal(t, "d1.json", e.URL)

	_, ok = m.Find("unknown")
	assert.False(t, ok)

	assert.Equal(t, map[string][]string{
		"player": {"sprite1", "sprite2"},
		"config": {"data1"},
	}, m.Groups())
}
