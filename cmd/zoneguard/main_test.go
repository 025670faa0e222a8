package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daemonp/zoneguard/internal/nvs"
	"github.com/daemonp/zoneguard/internal/types"
)

func TestPrintNVS(t *testing.T) {
	kv := nvs.NewMemory()
	var out bytes.Buffer
	require.NoError(t, printNVS(&out, kv))
	assert.Equal(t, "mode: unset\nnonce floor: unset\n", out.String())

	require.NoError(t, kv.PutUint(nvs.KeyMode, types.ModeAway.PersistValue()))
	require.NoError(t, kv.PutUint(nvs.KeyNonceFloor, 42))
	out.Reset()
	require.NoError(t, printNVS(&out, kv))
	assert.Equal(t, "mode: away\nnonce floor: 42\n", out.String())

	require.NoError(t, kv.PutUint(nvs.KeyMode, 7))
	out.Reset()
	require.NoError(t, printNVS(&out, kv))
	assert.Contains(t, out.String(), "mode: invalid (7)")
}

func TestUnavailableNVSReportsError(t *testing.T) {
	var out bytes.Buffer
	assert.ErrorIs(t, printNVS(&out, nvs.Unavailable{}), nvs.ErrUnavailable)
}

func TestRootCommandWiring(t *testing.T) {
	root := newRootCommand()
	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["run"])
	assert.True(t, names["outbox"])
	assert.True(t, names["nvs"])
	assert.Equal(t, "config.yml", root.PersistentFlags().Lookup("config").DefValue)
}
