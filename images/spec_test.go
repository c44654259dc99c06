package images

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/transientvm/transient/types"
)

func TestParseSpecDefaultsToVagrant(t *testing.T) {
	spec, err := ParseSpec("img")
	require.NoError(t, err)
	assert.Equal(t, types.ProtocolVagrant, spec.Protocol)
	assert.Equal(t, "img", spec.Source)
}

func TestParseSpecVagrantVersion(t *testing.T) {
	spec, err := ParseSpec("img,vagrant=centos/7:2004.01")
	require.NoError(t, err)
	assert.Equal(t, types.ProtocolVagrant, spec.Protocol)
	assert.Equal(t, "centos/7:2004.01", spec.Source)
}

func TestParseSpecHTTP(t *testing.T) {
	spec, err := ParseSpec("img,http=https://ex.com/a.qcow2.xz")
	require.NoError(t, err)
	assert.Equal(t, types.ProtocolHTTP, spec.Protocol)
	assert.Equal(t, "https://ex.com/a.qcow2.xz", spec.Source)
}

func TestParseSpecFileWithOptions(t *testing.T) {
	spec, err := ParseSpec("img,file=/p,format=raw")
	require.NoError(t, err)
	assert.Equal(t, types.ProtocolFile, spec.Protocol)
	assert.Equal(t, "/p", spec.Source)
	assert.Equal(t, "raw", spec.Options["format"])
}

func TestParseSpecEmptyNameErrors(t *testing.T) {
	_, err := ParseSpec(",sometext")
	require.Error(t, err)
}

func TestParseSpecUnknownProtocolErrors(t *testing.T) {
	_, err := ParseSpec("img,unknownspec=x")
	require.Error(t, err)
}
