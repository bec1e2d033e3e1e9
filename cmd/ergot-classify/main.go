// Command ergot-classify runs the ergot model against image files without
// starting the web service.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/cropscan/ergot-detector/classifier"
	"github.com/cropscan/ergot-detector/config"
	"github.com/cropscan/ergot-detector/models"
	"github.com/cropscan/ergot-detector/predictor"
	"github.com/disintegration/imaging"
)

type output struct {
	File       string       `json:"file"`
	Label      models.Label `json:"label,omitempty"`
	Confidence float64      `json:"confidence"`
	Score      float32      `json:"score"`
	Error      string       `json:"error,omitempty"`
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	configPath := flag.String("config", "", "Path to YAML config")
	asJSON := flag.Bool("json", false, "Print one JSON object per image")
	flag.Parse()

	if flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: ergot-classify [-config file] [-json] image...")
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := classifier.InitRuntime(cfg.Model.RuntimeLib); err != nil {
		log.Fatalf("Failed to initialize ONNX environment: %v", err)
	}
	defer classifier.DestroyRuntime()

	opts, err := cfg.Model.CacheOptions()
	if err != nil {
		log.Fatalf("Invalid model config: %v", err)
	}
	pre, err := cfg.Model.Preprocessor()
	if err != nil {
		log.Fatalf("Invalid model config: %v", err)
	}
	opener := classifier.OrtOpener(cfg.Model.SessionOptions())
	cache := classifier.NewCache(opts.Source(), opener, classifier.PolicyResident, 1)
	defer cache.Unload()

	failed := run(context.Background(), cache, pre, flag.Args(), *asJSON, os.Stdout)
	if failed > 0 {
		cache.Unload()
		classifier.DestroyRuntime()
		os.Exit(1)
	}
}

// run classifies each path and reports how many could not be classified.
func run(ctx context.Context, model predictor.Classifier, pre *classifier.Preprocessor, paths []string, asJSON bool, w io.Writer) int {
	enc := json.NewEncoder(w)
	failed := 0
	for _, path := range paths {
		out := classify(ctx, model, pre, path)
		if out.Error != "" {
			failed++
		}
		if asJSON {
			enc.Encode(out)
			continue
		}
		if out.Error != "" {
			fmt.Fprintf(w, "%s: error: %s\n", out.File, out.Error)
			continue
		}
		fmt.Fprintf(w, "%s: %s (%.2f%%, score %.4f)\n", out.File, out.Label, out.Confidence, out.Score)
	}
	return failed
}

func classify(ctx context.Context, model predictor.Classifier, pre *classifier.Preprocessor, path string) output {
	out := output{File: path}
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		out.Error = err.Error()
		return out
	}
	score, err := model.Classify(ctx, pre.Process(img))
	if err != nil {
		out.Error = err.Error()
		return out
	}
	out.Score = score
	out.Label, out.Confidence = predictor.Decide(score)
	return out
}
