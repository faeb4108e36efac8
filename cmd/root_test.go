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

	expected := []string{"migrate", "seed-metrics", "import", "risk", "averages", "predict", "serve", "document"}
	for _, name := range expected {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "finrisk", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestImportCommand_Flags(t *testing.T) {
	flag := importCmd.Flags().Lookup("xlsx")
	require.NotNil(t, flag, "import command should have --xlsx flag")

	typeFlag := importCmd.Flags().Lookup("type")
	require.NotNil(t, typeFlag)
	assert.Equal(t, "ACTUAL", typeFlag.DefValue)
}

func TestRiskCommand_Flags(t *testing.T) {
	for _, name := range []string{"company", "quarter", "version"} {
		assert.NotNil(t, riskCmd.Flags().Lookup(name), "risk should have --%s flag", name)
	}
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
}

func TestPredictCommand_Flags(t *testing.T) {
	flag := predictCmd.Flags().Lookup("concurrency")
	require.NotNil(t, flag)
	assert.Equal(t, "4", flag.DefValue)
	assert.NotNil(t, predictCmd.Flags().Lookup("stock"))
	assert.NotNil(t, predictCmd.Flags().Lookup("only"))
}
