package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	for _, name := range []string{"serve", "search", "populate", "analyze", "migrate"} {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "dupe-finder", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
}

func TestSearchCommand_Flags(t *testing.T) {
	require.NotNil(t, searchCmd.Flags().Lookup("image"))
}

func TestPopulateCommand_Flags(t *testing.T) {
	for _, c := range []string{"product", "dupe"} {
		require.NotNil(t, populateCmd.Flags().Lookup(c), "populate should have --%s", c)
		require.NotNil(t, analyzeCmd.Flags().Lookup(c), "analyze should have --%s", c)
	}
	assert.Contains(t, populateCmd.ValidArgs, "all")
}

func TestJobRequestFromFlags(t *testing.T) {
	jobProductID, jobDupeIDs = "p1", []string{"d1", "d2"}
	t.Cleanup(func() { jobProductID, jobDupeIDs = "", nil })

	req := jobRequest()
	assert.Equal(t, "p1", req.OriginalProductID)
	assert.Equal(t, []string{"d1", "d2"}, req.DupeProductIDs)
}
