package main

import (
	"bytes"
	"flag"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitThenCheckBundledCatalogs(t *testing.T) {
	dir := t.TempDir()

	var out bytes.Buffer
	require.NoError(t, run([]string{"init", "-dir", dir}, &out))
	assert.FileExists(t, filepath.Join(dir, "active.en.toml"))
	assert.FileExists(t, filepath.Join(dir, "active.hi.toml"))

	out.Reset()
	require.NoError(t, run([]string{"check", "-dir", dir}, &out))
	assert.Contains(t, out.String(), "en: ")
	assert.Contains(t, out.String(), "0 missing")
}

func TestCheckFailsWhenSourceIncomplete(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "active.en.toml"), []byte(`AppTitle = "Ergot"`), 0o644))

	var out bytes.Buffer
	err := run([]string{"check", "-dir", dir}, &out)
	assert.ErrorIs(t, err, errIncomplete)
	assert.Contains(t, out.String(), "missing  NavHome")
}

func TestMergeWritesTranslateFiles(t *testing.T) {
	dir := t.TempDir()
	var out bytes.Buffer
	require.NoError(t, run([]string{"init", "-dir", dir}, &out))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "active.hi.toml"), []byte(`AppTitle = "एर्गोट"`), 0o644))

	out.Reset()
	require.NoError(t, run([]string{"merge", "-dir", dir}, &out))
	assert.FileExists(t, filepath.Join(dir, "translate.hi.toml"))
	assert.Contains(t, out.String(), "translate.hi.toml")
}

func TestUnknownCommand(t *testing.T) {
	var out bytes.Buffer
	assert.ErrorIs(t, run([]string{"publish"}, &out), flag.ErrHelp)
	assert.ErrorIs(t, run(nil, &out), flag.ErrHelp)
}
