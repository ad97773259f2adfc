package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runDC(args ...string) (int, string, string) {
	var stdout, stderr bytes.Buffer
	code := Run(append([]string{"dc"}, args...), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRun_NoCommandPrintsUsage(t *testing.T) {
	code, _, stderr := runDC()
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr, "Usage: dc")
}

func TestRun_UnknownCommand(t *testing.T) {
	code, _, stderr := runDC("launder")
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr, "unknown command: launder")
}

func TestRun_Version(t *testing.T) {
	code, stdout, _ := runDC("version")
	assert.Equal(t, 0, code)
	assert.True(t, strings.HasPrefix(stdout, "dc "))
}

func TestRun_Help(t *testing.T) {
	code, stdout, _ := runDC("help")
	assert.Equal(t, 0, code)
	for _, cmd := range []string{"classify", "acquire", "screen"} {
		assert.Contains(t, stdout, cmd)
	}
}

func TestStringList(t *testing.T) {
	var l stringList
	require.NoError(t, l.Set("a"))
	require.NoError(t, l.Set("b"))
	assert.Equal(t, stringList{"a", "b"}, l)
	assert.Equal(t, "a,b", l.String())
}

func TestHeaderList(t *testing.T) {
	h := headerList{}
	require.NoError(t, h.Set("Authorization=Bearer tok"))
	assert.Equal(t, "Bearer tok", h["Authorization"])

	require.NoError(t, h.Set("Accept: application/json"))
	assert.Equal(t, "application/json", h["Accept"])

	// An = inside a header-style value is not a separator.
	require.NoError(t, h.Set("Cookie: session=abc123"))
	assert.Equal(t, "session=abc123", h["Cookie"])

	assert.Error(t, h.Set("no-separator-here"))
}
