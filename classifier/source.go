package classifier

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
)

var ErrNoModel = errors.New("model artifact unavailable")

// Source provides a local path to the model artifact. The returned cleanup
// releases whatever Fetch had to create.
type Source interface {
	Fetch(ctx context.Context) (path string, cleanup func() error, err error)
	String() string
}

func noCleanup() error { return nil }

// LocalSource is an artifact bundled next to the binary.
type LocalSource struct {
	Path string
}

func (s LocalSource) Fetch(context.Context) (string, func() error, error) {
	info, err := os.Stat(s.Path)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrNoModel, err)
	}
	if info.IsDir() {
		return "", nil, fmt.Errorf("%w: %s is a directory", ErrNoModel, s.Path)
	}
	return s.Path, noCleanup, nil
}

func (s LocalSource) String() string {
	return "file:" + s.Path
}

// RemoteSource downloads the artifact over HTTP into a unique temporary file.
type RemoteSource struct {
	URL    string
	Client *http.Client
	// Dir is where temporary artifacts are written; empty means os.TempDir.
	Dir string
}

func (s RemoteSource) Fetch(ctx context.Context) (string, func() error, error) {
	tmp, err := os.CreateTemp(s.Dir, "ergot-model-*.onnx")
	if err != nil {
		return "", nil, fmt.Errorf("create temp model file: %w", err)
	}
	path := tmp.Name()
	cleanup := func() error {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
		return nil
	}

	_, err = Download(ctx, s.Client, s.URL, tmp)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		cleanup()
		return "", nil, err
	}
	return path, cleanup, nil
}

func (s RemoteSource) String() string {
	return s.URL
}

// OpenRemote issues the GET and returns the body with its declared length
// (-1 when unknown). Non-2xx responses are errors.
func OpenRemote(ctx context.Context, client *http.Client, url string) (io.ReadCloser, int64, error) {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: download: %v", ErrNoModel, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, 0, fmt.Errorf("%w: download failed with status: %d", ErrNoModel, resp.StatusCode)
	}
	return resp.Body, resp.ContentLength, nil
}

// Download copies the artifact at url into dst.
func Download(ctx context.Context, client *http.Client, url string, dst io.Writer) (int64, error) {
	body, _, err := OpenRemote(ctx, client, url)
	if err != nil {
		return 0, err
	}
	defer body.Close()

	return extractFile(body, dst)
}

// extractFile is a helper function to copy an artifact stream
func extractFile(src io.Reader, dst io.Writer) (int64, error) {
	n, err := io.Copy(dst, src)
	if err != nil {
		return n, fmt.Errorf("write model file: %w", err)
	}
	return n, nil
}
