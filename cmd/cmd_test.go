package cmd

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubcommandsRegistered(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	for _, want := range []string{"serve", "packs", "play", "version"} {
		assert.True(t, names[want], "missing subcommand %q", want)
	}
}

func TestVersionOutput(t *testing.T) {
	var out bytes.Buffer
	versionCmd.SetOut(&out)

	versionCmd.Run(versionCmd, nil)

	assert.Contains(t, out.String(), "keywave")
	assert.Contains(t, out.String(), version)
}

func TestPlayRequiresKeyArgument(t *testing.T) {
	err := playCmd.Args(playCmd, []string{})
	require.Error(t, err)

	assert.NoError(t, playCmd.Args(playCmd, []string{"KeyA"}))
}
