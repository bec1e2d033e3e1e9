// Command ergot-fetch downloads a model artifact so it can be bundled with
// the service.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/cropscan/ergot-detector/classifier"
	"github.com/schollz/progressbar/v2"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	url := flag.String("url", os.Getenv("MODEL_URL"), "Model download URL")
	out := flag.String("out", "pearl_millet_ergot_model.onnx", "Destination path")
	timeout := flag.Duration("timeout", 5*time.Minute, "Download timeout")
	quiet := flag.Bool("quiet", false, "Disable the progress bar")
	flag.Parse()

	if *url == "" {
		fmt.Fprintln(os.Stderr, "usage: ergot-fetch -url <model url> [-out path]")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	n, err := fetch(ctx, &http.Client{Timeout: *timeout}, *url, *out, !*quiet)
	if err != nil {
		log.Fatalf("Failed to fetch model: %v", err)
	}
	log.Printf("Saved %d bytes to %s", n, *out)
}

// fetch writes the artifact beside dst and renames it into place, so an
// interrupted download never leaves a truncated model behind.
func fetch(ctx context.Context, client *http.Client, url, dst string, progress bool) (int64, error) {
	body, size, err := classifier.OpenRemote(ctx, client, url)
	if err != nil {
		return 0, err
	}
	defer body.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".ergot-fetch-*")
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	var w io.Writer = tmp
	var bar *progressbar.ProgressBar
	if progress && size > 0 {
		bar = progressbar.NewOptions(int(size),
			progressbar.OptionSetBytes(int(size)),
			progressbar.OptionSetWriter(os.Stderr),
		)
		w = io.MultiWriter(tmp, barWriter{bar})
	}

	n, err := io.Copy(w, body)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return n, fmt.Errorf("write model file: %w", err)
	}
	if bar != nil {
		bar.Finish()
		fmt.Fprintln(os.Stderr)
	}
	if size > 0 && n != size {
		return n, fmt.Errorf("short download: got %d of %d bytes", n, size)
	}

	if err := os.Rename(tmp.Name(), dst); err != nil {
		return n, fmt.Errorf("move model into place: %w", err)
	}
	return n, nil
}

type barWriter struct {
	bar *progressbar.ProgressBar
}

func (b barWriter) Write(p []byte) (int, error) {
	if err := b.bar.Add(len(p)); err != nil {
		return 0, err
	}
	return len(p), nil
}
