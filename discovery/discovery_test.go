package discovery

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/transientvm/transient/types"
)

type fakeRegistry struct {
	calls   int
	results [][]types.RunningInstance
}

func (f *fakeRegistry) ScanOnce(context.Context) ([]types.RunningInstance, error) {
	i := f.calls
	if i >= len(f.results) {
		i = len(f.results) - 1
	}
	f.calls++
	return f.results[i], nil
}

func TestListSingleScanWithoutTimeout(t *testing.T) {
	reg := &fakeRegistry{results: [][]types.RunningInstance{{{Name: "vm1"}, {Name: "vm2", SSHPort: 2222}}}}
	out, err := List(context.Background(), reg, Filter{}, 0)
	require.NoError(t, err)
	assert.Len(t, out, 2)
	assert.Equal(t, 1, reg.calls)
}

func TestListFiltersByName(t *testing.T) {
	reg := &fakeRegistry{results: [][]types.RunningInstance{{{Name: "vm1"}, {Name: "vm2"}}}}
	out, err := List(context.Background(), reg, Filter{Name: "vm2"}, 0)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "vm2", out[0].Name)
}

func TestListTimeoutWithoutFilterIsIllegal(t *testing.T) {
	reg := &fakeRegistry{results: [][]types.RunningInstance{{}}}
	_, err := List(context.Background(), reg, Filter{}, time.Second)
	assert.Error(t, err)
}

func TestListRetriesUntilMatch(t *testing.T) {
	reg := &fakeRegistry{results: [][]types.RunningInstance{
		{},
		{},
		{{Name: "vm1", SSHPort: 22}},
	}}
	out, err := List(context.Background(), reg, Filter{Name: "vm1"}, time.Second)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.GreaterOrEqual(t, reg.calls, 3)
}
