package formula

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVars_Expand(t *testing.T) {
	t.Parallel()

	vars := Vars{
		PlaceholderPrefix: "/cellar/Cellar/modsecurity/3.0.7",
		"opt:yajl":        "/cellar/Cellar/yajl/2.1.0",
		PlaceholderJobs:   "4",
	}

	tests := []struct {
		in   string
		want string
	}{
		{"--prefix={{prefix}}", "--prefix=/cellar/Cellar/modsecurity/3.0.7"},
		{"--with-yajl={{ opt:yajl }}", "--with-yajl=/cellar/Cellar/yajl/2.1.0"},
		{"-j{{jobs}}", "-j4"},
		{"plain", "plain"},
		{"{single}", "{single}"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			got, err := vars.Expand(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestVars_ExpandUnknown(t *testing.T) {
	t.Parallel()

	_, err := Vars{}.Expand("--prefix={{prefix}}")
	assert.True(t, errors.Is(err, ErrUnknownPlaceholder))
}

func TestCommand_Expand(t *testing.T) {
	t.Parallel()

	cmd := MustNewCommand("{{prefix}}/bin/tool", "--version", "{{name}}")
	expanded, err := cmd.Expand(Vars{PlaceholderPrefix: "/p", PlaceholderName: "tool"})
	require.NoError(t, err)

	assert.Equal(t, "/p/bin/tool", expanded.Program())
	assert.Equal(t, []string{"--version", "tool"}, expanded.Args())
	assert.Equal(t, "{{prefix}}/bin/tool", cmd.Program(), "original is unchanged")
}

func TestNewCommand(t *testing.T) {
	t.Parallel()

	_, err := NewCommand("  ")
	assert.Error(t, err)

	args := []string{"install"}
	cmd, err := NewCommand("make", args...)
	require.NoError(t, err)
	args[0] = "clean"
	assert.Equal(t, "make install", cmd.String())

	assert.Panics(t, func() { MustNewCommand("") })
}

func TestCommand_ShellString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "make install", MustNewCommand("make", "install").ShellString())
	assert.Equal(t, `sh -c 'echo $HOME; exit 1'`, MustNewCommand("sh", "-c", "echo $HOME; exit 1").ShellString())
	assert.Equal(t, "printf ''", MustNewCommand("printf", "").ShellString())
}
