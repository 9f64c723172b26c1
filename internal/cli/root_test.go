package cli

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCommandsRegistered(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"run", "poll", "show", "signals", "export", "backfill", "simulate", "version"} {
		require.True(t, names[want], "缺少子命令 %s", want)
	}
}

func TestVersionSkipsConfigLoad(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"version", "--config", "/nonexistent/marketpulse.yaml"})
	t.Cleanup(func() { rootCmd.SetArgs(nil); rootCmd.SetOut(nil) })

	require.NoError(t, rootCmd.Execute())
	require.Contains(t, out.String(), "marketpulse dev")
	require.Nil(t, appHandle)
}
