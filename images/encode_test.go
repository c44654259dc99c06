package images

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrips(t *testing.T) {
	cases := map[string]string{
		"simple":     "simple",
		"with space": "with%20space",
		"with-dash":  "with%2Ddash",
		"with/slash": "with%2Fslash",
	}
	for input, want := range cases {
		got := EncodeName(input)
		assert.Equal(t, want, got, "encode(%q)", input)

		back, err := DecodeName(got)
		require.NoError(t, err)
		assert.Equal(t, input, back, "decode(encode(%q))", input)
	}
}
