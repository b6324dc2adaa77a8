package cli

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	assert.Equal(t, "apsync", cmd.Use)
	assert.Contains(t, cmd.Long, "Archipelago")
	assert.True(t, cmd.SilenceUsage)
}

func TestRootCommand_Subcommands(t *testing.T) {
	cmd := NewRootCommand()
	commands := [][]string{{"run"}, {"scout"}, {"progress"}, {"progress", "reset"}, {"catalog"}}

	for _, path := range commands {
		path := path
		t.Run(path[len(path)-1], func(t *testing.T) {
			subCmd, _, err := cmd.Find(path)
			require.NoError(t, err, "command %v should exist", path)
			assert.Equal(t, path[len(path)-1], subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	flags := NewRootCommand().PersistentFlags()

	tests := []struct {
		name, shorthand, def string
	}{
		{"verbose", "v", "false"},
		{"format", "", "text"},
		{"log-format", "", "text"},
	}
	for _, tt := range tests {
		f := flags.Lookup(tt.name)
		require.NotNil(t, f, "--%s", tt.name)
		assert.Equal(t, tt.shorthand, f.Shorthand, "--%s shorthand", tt.name)
		assert.Equal(t, tt.def, f.DefValue, "--%s default", tt.name)
	}
}

func TestConnectFlags(t *testing.T) {
	for _, name := range []string{"run", "scout"} {
		name := name
		t.Run(name, func(t *testing.T) {
			sub, _, err := NewRootCommand().Find([]string{name})
			require.NoError(t, err)

			for _, flag := range []string{"server", "slot", "password", "db", "cert-file", "handshake-timeout"} {
				require.NotNil(t, sub.Flags().Lookup(flag), "--%s", flag)
			}
			assert.Equal(t, "s", sub.Flags().Lookup("server").Shorthand)
		})
	}
}

func TestRunCommandFlags(t *testing.T) {
	runCmd, _, err := NewRootCommand().Find([]string{"run"})
	require.NoError(t, err)

	for _, flag := range []string{"metrics-addr", "no-reconnect", "play"} {
		assert.NotNil(t, runCmd.Flags().Lookup(flag), "--%s", flag)
	}
}

func TestIsValidFormat(t *testing.T) {
	for format, want := range map[string]bool{"text": true, "json": true, "xml": false, "": false, "TEXT": false} {
		assert.Equal(t, want, isValidFormat(format), "format %q", format)
	}
}

func TestRootCommand_RejectsUnknownFormats(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"output format", []string{"--format", "xml", "catalog"}},
		{"log format", []string{"--log-format", "logfmt", "catalog"}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			cmd := NewRootCommand()
			cmd.SetOut(&bytes.Buffer{})
			cmd.SetArgs(tt.args)

			err := cmd.Execute()
			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid")
			assert.Equal(t, ExitCommandError, GetExitCode(err))
		})
	}
}

func TestRootOptions_Logger(t *testing.T) {
	tests := []struct {
		name    string
		opts    RootOptions
		want    string
		verbose bool
	}{
		{"text", RootOptions{LogFormat: "text"}, "msg=hello", false},
		{"json", RootOptions{LogFormat: "json"}, `"msg":"hello"`, false},
		{"verbose enables debug", RootOptions{LogFormat: "text", Verbose: true}, "level=DEBUG", true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			logger := tt.opts.logger(buf, 0)
			logger.Info("hello")
			logger.Debug("details")

			assert.Contains(t, buf.String(), tt.want)
			assert.Equal(t, tt.verbose, bytes.Contains(buf.Bytes(), []byte("details")))
		})
	}
}
