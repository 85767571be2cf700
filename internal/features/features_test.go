package features

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rafaeljc/nornir/internal/prefs"
)

const manifest = `
newtab:
  description: New tab page
  variables:
    enabled:
      type: boolean
      setPref:
        pref: browser.newtab.enabled
        branch: user
    layout:
      type: json
      setPref: browser.newtab.layout
    label:
      type: string
coenroll:
  allowCoenrollment: true
  variables: {}
`

func TestRegistry_Load(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Load(strings.NewReader(manifest)))

	t.Run("Should always register the reserved prefFlips feature", func(t *testing.T) {
		f, err := r.Get(PrefFlipsFeatureID)
		require.NoError(t, err)
		assert.True(t, f.AllowCoenrollment)
	})

	t.Run("Should parse mapping and scalar setPref forms", func(t *testing.T) {
		f, err := r.Get("newtab")
		require.NoError(t, err)
		assert.Equal(t, "newtab", f.ID)
		assert.False(t, f.AllowCoenrollment)

		require.NotNil(t, f.Variables["enabled"].SetPref)
		assert.Equal(t, SetPref{Pref: "browser.newtab.enabled", Branch: prefs.BranchUser}, *f.Variables["enabled"].SetPref)

		require.NotNil(t, f.Variables["layout"].SetPref)
		assert.Equal(t, SetPref{Pref: "browser.newtab.layout", Branch: prefs.BranchDefault}, *f.Variables["layout"].SetPref)

		assert.Nil(t, f.Variables["label"].SetPref)
	})

	t.Run("Should list every feature id sorted", func(t *testing.T) {
		assert.Equal(t, []string{"coenroll", "newtab", PrefFlipsFeatureID}, r.IDs())
		assert.True(t, r.Has("coenroll"))
		assert.False(t, r.Has("missing"))
	})

	t.Run("Should report unknown features", func(t *testing.T) {
		_, err := r.Get("missing")
		assert.ErrorIs(t, err, ErrUnknownFeature)
	})
}

func TestRegistry_Validation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{name: "unknown variable type", yaml: "f:\n  variables:\n    v:\n      type: float\n"},
		{name: "unknown pref branch", yaml: "f:\n  variables:\n    v:\n      type: int\n      setPref:\n        pref: a.b\n        branch: sticky\n"},
		{name: "empty setPref", yaml: "f:\n  variables:\n    v:\n      type: int\n      setPref: \"\"\n"},
		{name: "reserved id", yaml: "prefFlips:\n  variables: {}\n"},
		{name: "not yaml", yaml: "::::"},
		{name: "feature without a body", yaml: "f:\n"},
		{name: "ill-formed feature id", yaml: "\"my feature\":\n  variables: {}\n"},
	}

	for _, tt := range tests {
		t.Run("Should reject "+tt.name, func(t *testing.T) {
			r := NewRegistry()
			err := r.Load(strings.NewReader(tt.yaml))
			assert.ErrorIs(t, err, ErrInvalidManifest)
			assert.Equal(t, []string{PrefFlipsFeatureID}, r.IDs())
		})
	}
}

func TestRegistry_Register(t *testing.T) {
	tests := []struct {
		name    string
		feature *Feature
		wantErr bool
	}{
		{name: "Should accept a camel case id", feature: &Feature{ID: "newTab"}},
		{name: "Should accept dotted and dashed ids", feature: &Feature{ID: "browser.new-tab_v2"}},
		{name: "Should reject a nil feature", feature: nil, wantErr: true},
		{name: "Should reject an empty id", feature: &Feature{}, wantErr: true},
		{name: "Should reject punctuation only ids", feature: &Feature{ID: ":::"}, wantErr: true},
		{name: "Should reject ids starting with a digit", feature: &Feature{ID: "1feature"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewRegistry().Register(tt.feature)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidManifest)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestRegistry_LoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "features.yaml")
	require.NoError(t, os.WriteFile(path, []byte(manifest), 0o600))

	r := NewRegistry()
	require.NoError(t, r.LoadFile(path))
	assert.True(t, r.Has("newtab"))

	assert.Error(t, r.LoadFile(filepath.Join(t.TempDir(), "missing.yaml")))
}

func TestRegistry_EmptyManifest(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Load(strings.NewReader("")))
	assert.Equal(t, []string{PrefFlipsFeatureID}, r.IDs())
}
