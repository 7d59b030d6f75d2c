package cmd

import (
	"bytes"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/encodeous/srmesh/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) string {
	t.Helper()
	out := new(bytes.Buffer)
	rootCmd.SetOut(out)
	rootCmd.SetErr(new(bytes.Buffer))
	rootCmd.SetArgs(args)
	require.NoError(t, rootCmd.Execute())
	return out.String()
}

func TestEtxCommand(t *testing.T) {
	assert.Equal(t, "etx=1.05\n", run(t, "etx", "--rssi", "-50", "--snr", "12"))
}

func TestTopologyCommand(t *testing.T) {
	file := filepath.Join(t.TempDir(), "topology")
	require.NoError(t, os.WriteFile(file, []byte("core = a, b\ncore\nb, c\n"), 0600))
	out := run(t, "topology", file, "--nodes", "a,b,c")
	assert.ElementsMatch(t, []string{"a\tb", "b\tc"}, strings.Split(strings.TrimSpace(out), "\n"))
}

func TestDecodeCommand(t *testing.T) {
	info := &protocol.SignalRoutingInfo{NodeId: 0x1234, SignalBasedCapable: true, RoutingVersion: 1}
	raw, err := info.Marshal()
	require.NoError(t, err)
	out := run(t, "decode", hex.EncodeToString(raw))
	assert.Contains(t, out, "4660")
}
