package canon

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalSortsKeysByUTF16(t *testing.T) {
	// U+1D11E encodes as the surrogate pair 0xD834 0xDD1E in UTF-16, which
	// sorts before U+FF21 (0xFF21). Code-point (and UTF-8 byte) order is
	// the reverse, so this pair catches a wrong comparator.
	obj := map[string]any{
		"\U0001D11E": "clef",
		"Ａ":          "fullwidth",
	}

	data, err := Marshal(obj)
	require.NoError(t, err)
	assert.Equal(t, "{\"\U0001D11E\":\"clef\",\"Ａ\":\"fullwidth\"}", string(data))
}

func TestMarshalDeterminism(t *testing.T) {
	obj := map[string]any{
		"b": "two",
		"a": int64(1),
		"c": []string{"x", "y"},
		"d": map[string]string{"k": "v"},
	}

	first, err := Marshal(obj)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := Marshal(obj)
		require.NoError(t, err)
		assert.Equal(t, first, again, "canonical bytes must be stable across calls")
	}
}

func TestMarshalNFCNormalization(t *testing.T) {
	// "é" precomposed (U+00E9) vs decomposed (e + U+0301).
	composed, err := Marshal("caf\u00e9")
	require.NoError(t, err)
	decomposed, err := Marshal("cafe\u0301")
	require.NoError(t, err)

	assert.Equal(t, composed, decomposed, "NFC-equal strings must canonicalize identically")
}

func TestMarshalNoHTMLEscaping(t *testing.T) {
	data, err := Marshal("<a>&</a>")
	require.NoError(t, err)
	assert.Equal(t, "\"<a>&</a>\"", string(data))
}

func TestMarshalRejectsFloats(t *testing.T) {
	_, err := Marshal(map[string]any{"score": 0.5})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "floats are forbidden")
}

func TestMarshalRejectsNull(t *testing.T) {
	_, err := Marshal(map[string]any{"missing": nil})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "null is forbidden")
}

func TestMarshalRejectsUnsupportedTypes(t *testing.T) {
	_, err := Marshal(struct{ X int }{X: 1})
	assert.Error(t, err)
}

func TestMarshalEmptyContainers(t *testing.T) {
	data, err := Marshal(map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, "{}", string(data))

	data, err = Marshal([]any{})
	require.NoError(t, err)
	assert.Equal(t, "[]", string(data))
}
