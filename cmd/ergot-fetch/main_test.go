package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/cropscan/ergot-detector/classifier"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchWritesArtifact(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("onnx-bytes"))
	}))
	defer srv.Close()

	dst := filepath.Join(t.TempDir(), "model.onnx")
	n, err := fetch(context.Background(), srv.Client(), srv.URL, dst, false)
	require.NoError(t, err)
	assert.EqualValues(t, len("onnx-bytes"), n)

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "onnx-bytes", string(data))
}

func TestFetchBadStatusLeavesNothing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	dir := t.TempDir()
	dst := filepath.Join(dir, "model.onnx")
	_, err := fetch(context.Background(), srv.Client(), srv.URL, dst, false)
	assert.ErrorIs(t, err, classifier.ErrNoModel)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
