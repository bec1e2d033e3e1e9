package classifier

import (
	"context"
	"errors"
	"image"
	"image/color"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeModel struct {
	score     float32
	destroyed bool
	path      string
}

func (m *fakeModel) Run(input []float32) (float32, error) {
	if len(input) != TensorSize() {
		return 0, ErrInputSize
	}
	if _, err := os.Stat(m.path); err != nil {
		return 0, err
	}
	return m.score, nil
}

func (m *fakeModel) Destroy() { m.destroyed = true }

type fakeOpener struct {
	mu     sync.Mutex
	score  float32
	fail   int
	opened []*fakeModel
}

func (o *fakeOpener) open(path string) (Model, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.fail > 0 {
		o.fail--
		return nil, errors.New("corrupt model")
	}
	m := &fakeModel{score: o.score, path: path}
	o.opened = append(o.opened, m)
	return m, nil
}

func writeModel(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "model.onnx")
	require.NoError(t, os.WriteFile(path, []byte("onnx"), 0o644))
	return path
}

func modelServer(t *testing.T, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		w.Write([]byte("remote-onnx"))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dirEntries(t *testing.T, dir string) int {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	return len(entries)
}

func TestPreprocessScalesToUnitRange(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 40, 30))
	fill := color.RGBA{R: 51, G: 102, B: 255, A: 255}
	for y := 0; y < 30; y++ {
		for x := 0; x < 40; x++ {
			img.Set(x, y, fill)
		}
	}

	buf := NewPreprocessor(OrderRGB).Process(img)
	require.Len(t, buf, InputWidth*InputHeight*InputChannels)

	for _, i := range []int{0, 3 * 1000, len(buf) - 3} {
		assert.InDelta(t, 0.2, buf[i], 1.0/255)
		assert.InDelta(t, 0.4, buf[i+1], 1.0/255)
		assert.InDelta(t, 1.0, buf[i+2], 1.0/255)
	}
	for _, v := range buf {
		assert.GreaterOrEqual(t, v, float32(0))
		assert.LessOrEqual(t, v, float32(1))
	}
}

func TestPreprocessDefaultsToBGR(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 10, 10))
	for y := 0; y < 10; y++ {
		for x := 0; x < 10; x++ {
			img.Set(x, y, color.NRGBA{R: 255, G: 51, A: 255})
		}
	}

	pre := NewPreprocessor("")
	assert.Equal(t, OrderBGR, pre.Order())

	buf := pre.Process(img)
	for _, i := range []int{0, len(buf) / 2, len(buf) - 3} {
		i -= i % InputChannels
		assert.InDelta(t, 0.0, buf[i], 1.0/255)
		assert.InDelta(t, 0.2, buf[i+1], 1.0/255)
		assert.InDelta(t, 1.0, buf[i+2], 1.0/255)
	}
}

func TestParseChannelOrder(t *testing.T) {
	order, err := ParseChannelOrder("rgb")
	require.NoError(t, err)
	assert.Equal(t, OrderRGB, order)

	_, err = ParseChannelOrder("rgba")
	require.Error(t, err)
}

func TestLocalSourceMissingFile(t *testing.T) {
	_, _, err := LocalSource{Path: filepath.Join(t.TempDir(), "missing.onnx")}.Fetch(context.Background())
	require.ErrorIs(t, err, ErrNoModel)
}

func TestRemoteSource(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		dir := t.TempDir()
		src := RemoteSource{URL: modelServer(t, http.StatusOK).URL, Dir: dir}

		path, cleanup, err := src.Fetch(context.Background())
		require.NoError(t, err)
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, "remote-onnx", string(data))

		require.NoError(t, cleanup())
		assert.NoFileExists(t, path)
	})

	t.Run("bad status", func(t *testing.T) {
		dir := t.TempDir()
		src := RemoteSource{URL: modelServer(t, http.StatusNotFound).URL, Dir: dir}

		_, _, err := src.Fetch(context.Background())
		require.ErrorIs(t, err, ErrNoModel)
		assert.Equal(t, 0, dirEntries(t, dir))
	})
}

func TestCacheResidentLoadsOnce(t *testing.T) {
	opener := &fakeOpener{score: 0.8}
	cache := NewCache(LocalSource{Path: writeModel(t)}, opener.open, PolicyResident, 2)

	require.NoError(t, cache.Load(context.Background()))
	require.NoError(t, cache.Load(context.Background()))
	assert.True(t, cache.Loaded())
	assert.EqualValues(t, 1, cache.Loads())
	assert.Len(t, opener.opened, 2)

	score, err := cache.Classify(context.Background(), make([]float32, TensorSize()))
	require.NoError(t, err)
	assert.Equal(t, float32(0.8), score)

	stats, ok := cache.Stats()
	require.True(t, ok)
	assert.Equal(t, 2, stats.Size)
	assert.EqualValues(t, 1, stats.TotalAcquired)
	assert.Equal(t, 0, stats.InUse)

	require.NoError(t, cache.Unload())
	assert.False(t, cache.Loaded())
	for _, m := range opener.opened {
		assert.True(t, m.destroyed)
	}
}

func TestCacheResidentRemoteLoadsLazily(t *testing.T) {
	dir := t.TempDir()
	opener := &fakeOpener{score: 0.3}
	src := RemoteSource{URL: modelServer(t, http.StatusOK).URL, Dir: dir}
	cache := NewCache(src, opener.open, PolicyResident, 1)

	assert.False(t, cache.Loaded())
	_, err := cache.Classify(context.Background(), make([]float32, TensorSize()))
	require.NoError(t, err)
	_, err = cache.Classify(context.Background(), make([]float32, TensorSize()))
	require.NoError(t, err)

	assert.EqualValues(t, 1, cache.Loads())
	assert.Equal(t, 1, dirEntries(t, dir))

	require.NoError(t, cache.Unload())
	assert.Equal(t, 0, dirEntries(t, dir))
}

func TestCacheDiscardRemovesArtifact(t *testing.T) {
	dir := t.TempDir()
	opener := &fakeOpener{score: 0.6}
	src := RemoteSource{URL: modelServer(t, http.StatusOK).URL, Dir: dir}
	cache := NewCache(src, opener.open, PolicyDiscard, 1)

	for i := 0; i < 3; i++ {
		score, err := cache.Classify(context.Background(), make([]float32, TensorSize()))
		require.NoError(t, err)
		assert.Equal(t, float32(0.6), score)
		assert.Equal(t, 0, dirEntries(t, dir))
	}

	assert.EqualValues(t, 3, cache.Loads())
	assert.False(t, cache.Loaded())
	for _, m := range opener.opened {
		assert.True(t, m.destroyed)
	}
}

func TestCacheFailedLoadIsNotCached(t *testing.T) {
	opener := &fakeOpener{score: 0.9, fail: 1}
	cache := NewCache(LocalSource{Path: writeModel(t)}, opener.open, PolicyResident, 1)

	require.Error(t, cache.Load(context.Background()))
	assert.False(t, cache.Loaded())

	require.NoError(t, cache.Load(context.Background()))
	assert.True(t, cache.Loaded())
}

func TestCacheRemoteFailureReported(t *testing.T) {
	opener := &fakeOpener{}
	src := RemoteSource{URL: modelServer(t, http.StatusInternalServerError).URL, Dir: t.TempDir()}
	cache := NewCache(src, opener.open, PolicyDiscard, 1)

	_, err := cache.Classify(context.Background(), make([]float32, TensorSize()))
	require.ErrorIs(t, err, ErrNoModel)
	assert.Empty(t, opener.opened)
}

func TestCacheDownloadDoesNotBlockCallers(t *testing.T) {
	release := make(chan struct{})
	requested := make(chan struct{}, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case requested <- struct{}{}:
		default:
		}
		select {
		case <-release:
		case <-r.Context().Done():
			return
		}
		w.Write([]byte("remote-onnx"))
	}))
	t.Cleanup(srv.Close)

	opener := &fakeOpener{score: 0.7}
	cache := NewCache(RemoteSource{URL: srv.URL, Dir: t.TempDir()}, opener.open, PolicyResident, 1)
	defer cache.Unload()

	first := make(chan error, 1)
	go func() {
		_, err := cache.Classify(context.Background(), make([]float32, TensorSize()))
		first <- err
	}()
	select {
	case <-requested:
	case <-time.After(2 * time.Second):
		t.Fatal("model download never started")
	}

	status := make(chan bool, 1)
	go func() {
		_, ok := cache.Stats()
		status <- cache.Loaded() || ok
	}()
	select {
	case loaded := <-status:
		assert.False(t, loaded)
	case <-time.After(2 * time.Second):
		t.Fatal("Loaded and Stats blocked while the model downloads")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := cache.Classify(ctx, make([]float32, TensorSize()))
	require.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	select {
	case err := <-first:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("first classify never finished")
	}
	assert.True(t, cache.Loaded())
	assert.EqualValues(t, 1, cache.Loads())
}

func TestOpenCache(t *testing.T) {
	t.Run("bundled model loads up front", func(t *testing.T) {
		opener := &fakeOpener{score: 0.4}
		cache, err := OpenCache(context.Background(), CacheOptions{
			Path:     writeModel(t),
			Policy:   PolicyResident,
			PoolSize: 2,
		}, opener.open)
		require.NoError(t, err)
		defer cache.Unload()
		assert.True(t, cache.Loaded())
		assert.Len(t, opener.opened, 2)
	})

	t.Run("missing bundled model fails", func(t *testing.T) {
		opener := &fakeOpener{}
		_, err := OpenCache(context.Background(), CacheOptions{
			Path:   filepath.Join(t.TempDir(), "missing.onnx"),
			Policy: PolicyResident,
		}, opener.open)
		require.ErrorIs(t, err, ErrNoModel)
		assert.Empty(t, opener.opened)
	})

	t.Run("corrupt bundled model fails", func(t *testing.T) {
		opener := &fakeOpener{fail: 1}
		_, err := OpenCache(context.Background(), CacheOptions{
			Path:     writeModel(t),
			Policy:   PolicyResident,
			PoolSize: 1,
		}, opener.open)
		require.ErrorContains(t, err, "corrupt model")
	})

	t.Run("remote model waits for first use", func(t *testing.T) {
		opener := &fakeOpener{}
		cache, err := OpenCache(context.Background(), CacheOptions{
			URL:    "http://127.0.0.1:1/model.onnx",
			Policy: PolicyResident,
		}, opener.open)
		require.NoError(t, err)
		assert.False(t, cache.Loaded())
		assert.IsType(t, RemoteSource{}, cache.source)
	})

	t.Run("discard never loads up front", func(t *testing.T) {
		opener := &fakeOpener{}
		cache, err := OpenCache(context.Background(), CacheOptions{
			Path:     filepath.Join(t.TempDir(), "missing.onnx"),
			Policy:   PolicyDiscard,
			PoolSize: 4,
		}, opener.open)
		require.NoError(t, err)
		assert.False(t, cache.Loaded())
		assert.Equal(t, 1, cache.poolSize)
	})
}

func TestSessionPoolClosed(t *testing.T) {
	opener := &fakeOpener{}
	pool, err := NewSessionPool(opener.open, writeModel(t), 1)
	require.NoError(t, err)

	session, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	pool.Destroy()
	pool.Release(session)

	_, err = pool.Acquire(context.Background())
	require.ErrorIs(t, err, ErrPoolClosed)
	assert.True(t, opener.opened[0].destroyed)
}

func TestSessionPoolHonoursContext(t *testing.T) {
	opener := &fakeOpener{}
	pool, err := NewSessionPool(opener.open, writeModel(t), 1)
	require.NoError(t, err)
	defer pool.Destroy()

	held, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	defer pool.Release(held)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = pool.Acquire(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("discard")
	require.NoError(t, err)
	assert.Equal(t, PolicyDiscard, p)

	_, err = ParsePolicy("sometimes")
	require.Error(t, err)
}
