package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func TestRootCmd_Run(t *testing.T) {
	s := miniredis.RunT(t)

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--addr", s.Addr(), "--ops", "5"})
	require.NoError(t, cmd.Execute())

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 4)
	for i, name := range []string{"benchStringQPush", "benchStringQPull", "benchJsonQPush", "benchJsonQPull"} {
		require.True(t, strings.HasPrefix(lines[i], name+"*5:"), lines[i])
	}
	require.Empty(t, s.Keys())
}

func TestRootCmd_InvalidOps(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--ops", "0"})
	require.ErrorContains(t, cmd.Execute(), "--ops must be positive")
}

func TestGetEnvInt(t *testing.T) {
	t.Setenv("REDISQ_TEST_N", "12")
	require.Equal(t, 12, getEnvInt("REDISQ_TEST_N", 1))

	t.Setenv("REDISQ_TEST_N", "x")
	require.Equal(t, 1, getEnvInt("REDISQ_TEST_N", 1))
	require.Equal(t, "def", getEnv("REDISQ_TEST_UNSET", "def"))
}
