package cli

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_Subcommands(t *testing.T) {
	root := NewRootCommand()
	assert.Equal(t, "ledgerkv", root.Name())

	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"init", "add", "get", "list", "status", "mine", "namespaces", "verify", "serve", "test", "config"} {
		assert.Contains(t, names, want)
	}
}

func TestRootCommand_Flags(t *testing.T) {
	root := NewRootCommand()

	tests := []struct {
		command   string // empty for persistent root flags
		flag      string
		shorthand string
		def       string
	}{
		{"", "verbose", "v", "false"},
		{"", "format", "", "text"},
		{"", "config", "c", ""},
		{"", "app", "a", ""},
		{"", "db", "", ""},
		{"", "driver", "", ""},
		{"", "endpoint", "", ""},
		{"", "lookback", "", "0"},
		{"", "incremental", "", "false"},
		{"serve", "listen", "", "127.0.0.1:7007"},
		{"test", "update", "", "false"},
		{"test", "filter", "", ""},
		{"test", "parallel", "j", "4"},
	}

	for _, tt := range tests {
		t.Run(tt.command+"/"+tt.flag, func(t *testing.T) {
			flags := root.PersistentFlags()
			if tt.command != "" {
				sub, _, err := root.Find([]string{tt.command})
				require.NoError(t, err)
				flags = sub.Flags()
			}
			f := flags.Lookup(tt.flag)
			require.NotNil(t, f)
			assert.Equal(t, tt.shorthand, f.Shorthand)
			assert.Equal(t, tt.def, f.DefValue)
		})
	}
}

func TestIsValidFormat(t *testing.T) {
	for format, want := range map[string]bool{"text": true, "json": true, "xml": false, "": false, "TEXT": false} {
		assert.Equal(t, want, isValidFormat(format), format)
	}
}

func TestRootCommand_RejectsUnknownFormat(t *testing.T) {
	root := NewRootCommand()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"config", "--format", "yaml"})

	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `invalid format "yaml"`)
}
