package proctable

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildArgvBasic(t *testing.T) {
	spec := SpawnSpec{Command: "/bin/echo", Params: "hello world"}
	argv, stdout, err := buildArgv(spec)
	require.NoError(t, err)
	assert.Equal(t, []string{"/bin/echo", "/bin/echo", "hello", "world"}, argv)
	assert.Empty(t, stdout)
}

func TestBuildArgvEnvVar(t *testing.T) {
	t.Setenv("PCD_TEST_VAR", "resolved")
	spec := SpawnSpec{Command: "/bin/echo", Params: "$PCD_TEST_VAR tail"}
	argv, _, err := buildArgv(spec)
	require.NoError(t, err)
	assert.Equal(t, []string{"/bin/echo", "/bin/echo", "resolved", "tail"}, argv)
}

func TestBuildArgvUnresolvedDropped(t *testing.T) {
	spec := SpawnSpec{Command: "/bin/echo", Params: "$PCD_DEFINITELY_UNSET tail"}
	argv, _, err := buildArgv(spec)
	require.NoError(t, err)
	assert.Equal(t, []string{"/bin/echo", "/bin/echo", "tail"}, argv)
}

func TestBuildArgvTempFileResolution(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(dir+"/NAME", []byte("from-file\nsecond-line\n"), 0644))

	spec := SpawnSpec{Command: "/bin/echo", Params: "${NAME}", TempDir: dir}
	argv, _, err := buildArgv(spec)
	require.NoError(t, err)
	assert.Equal(t, []string{"/bin/echo", "/bin/echo", "from-file"}, argv)
}

func TestBuildArgvRedirect(t *testing.T) {
	spec := SpawnSpec{Command: "/bin/echo", Params: "one two > /tmp/out.log"}
	argv, stdout, err := buildArgv(spec)
	require.NoError(t, err)
	assert.Equal(t, []string{"/bin/echo", "/bin/echo", "one", "two"}, argv)
	assert.Equal(t, "/tmp/out.log", stdout)
}
