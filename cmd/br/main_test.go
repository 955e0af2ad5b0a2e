package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cognicore/openbr/pkg/br"
	"github.com/cognicore/openbr/pkg/br/brerr"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--log-level", "none", "--parallelism", "1"}, args...))
	err := root.Execute()
	return out.String(), err
}

func TestClassifierCommand(t *testing.T) {
	out, err := run(t, "classifier", "Identity")
	require.NoError(t, err)
	assert.Equal(t, "true", strings.TrimSpace(out))

	out, err = run(t, "classifier", "Identity:L2")
	require.NoError(t, err)
	assert.Equal(t, "false", strings.TrimSpace(out))
}

func TestAbbreviationsFlag(t *testing.T) {
	dir := t.TempDir()
	abbrevs := filepath.Join(dir, "abbrevs.yaml")
	require.NoError(t, os.WriteFile(abbrevs, []byte("Face: Identity:L2\n"), 0o644))

	out, err := run(t, "--abbreviations", abbrevs, "classifier", "Face")
	require.NoError(t, err)
	assert.Equal(t, "false", strings.TrimSpace(out))
}

func TestEnrollAndCatCommands(t *testing.T) {
	dir := t.TempDir()
	list := filepath.Join(dir, "people.txt")
	require.NoError(t, os.WriteFile(list, []byte("a[features=1]\nb[features=2]\n"), 0o644))
	gal := filepath.Join(dir, "people.gal")

	out, err := run(t, "enroll", "Read", list, gal)
	require.NoError(t, err)
	assert.Contains(t, out, "enrolled 2 templates")

	joined := filepath.Join(dir, "joined.gal")
	_, err = run(t, "cat", gal, gal, joined)
	require.NoError(t, err)

	_, err = run(t, "cat", gal, joined, joined)
	assert.ErrorIs(t, err, brerr.ErrInvalidArgument)
}

func TestConvertRejectsUnknownKind(t *testing.T) {
	dir := t.TempDir()
	_, err := run(t, "convert", "Histogram", filepath.Join(dir, "a.gal"), filepath.Join(dir, "b.gal"))
	assert.ErrorIs(t, err, brerr.ErrUnrecognizedFileType)
}

func TestMain(m *testing.M) {
	code := m.Run()
	_ = br.Shutdown()
	os.Exit(code)
}
