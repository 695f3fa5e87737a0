package kerneld

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRunCmd_FlagsAreRegisteredWithSaneDefaults(t *testing.T) {
	logFlag := runCmd.Flags().Lookup("log")
	assert.NotNil(t, logFlag, "log flag must be registered")
	assert.Equal(t, "info", logFlag.DefValue)

	stepsFlag := runCmd.Flags().Lookup("steps")
	assert.NotNil(t, stepsFlag, "steps flag must be registered")
	assert.Equal(t, "100", stepsFlag.DefValue)

	portFlag := runCmd.Flags().Lookup("port")
	assert.NotNil(t, portFlag, "port flag must be registered")
	assert.Equal(t, "sis.datactl", portFlag.DefValue)

	configFlag := runCmd.Flags().Lookup("config")
	assert.NotNil(t, configFlag, "config flag must be registered")
}

func TestRootCmd_HasRunSubcommand(t *testing.T) {
	found := false
	for _, c := range rootCmd.Commands() {
		if c.Use == "run" {
			found = true
		}
	}
	assert.True(t, found, "root command must register the run subcommand")
}
