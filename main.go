package main

import (
	"context"
	"errors"
	"flag"
	"io/fs"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cropscan/ergot-detector/assets"
	"github.com/cropscan/ergot-detector/classifier"
	"github.com/cropscan/ergot-detector/config"
	"github.com/cropscan/ergot-detector/i18n"
	"github.com/cropscan/ergot-detector/predictor"
	"github.com/cropscan/ergot-detector/server"
	"github.com/cropscan/ergot-detector/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	// Add basic logging
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	configPath := flag.String("config", "", "Path to YAML config (default: $CONFIG_FILE or ./ergot.yaml)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := classifier.InitRuntime(cfg.Model.RuntimeLib); err != nil {
		log.Fatalf("Failed to initialize ONNX environment: %v", err)
	}
	defer classifier.DestroyRuntime()

	cache, err := newModelCache(ctx, cfg.Model)
	if err != nil {
		log.Fatalf("Failed to load model: %v", err)
	}
	defer cache.Unload()

	pre, err := cfg.Model.Preprocessor()
	if err != nil {
		log.Fatalf("Invalid model config: %v", err)
	}

	naming, err := storage.ParseNaming(cfg.UploadNaming)
	if err != nil {
		log.Fatalf("Invalid upload naming: %v", err)
	}
	uploads, err := storage.NewUploadStore(cfg.UploadDir, naming, cfg.MinFreeBytes)
	if err != nil {
		log.Fatalf("Failed to prepare upload directory: %v", err)
	}

	catalog, err := newCatalog(ctx, cfg.LocalesDir)
	if err != nil {
		log.Fatalf("Failed to load messages: %v", err)
	}

	languages := make([]server.Language, 0, len(cfg.Languages))
	for _, l := range cfg.Languages {
		languages = append(languages, server.Language{Code: l.Code, Name: l.Name})
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	handler, err := server.New(server.Options{
		Predictor:      predictor.NewService(uploads, cache, pre, cfg.Debug),
		Results:        storage.NewResultStore(cfg.ResultTTL),
		Uploads:        uploads,
		Catalog:        catalog,
		Sessions:       server.NewSessionStore(cfg.SessionSecret),
		Languages:      languages,
		MaxUploadBytes: cfg.MaxUploadBytes,
		Model:          cache,
		Registry:       reg,
	})
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}

	srv := &http.Server{
		Handler:      handler,
		Addr:         cfg.Addr,
		WriteTimeout: 60 * time.Second,
		ReadTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("Shutdown: %v", err)
		}
	}()

	log.Printf("Starting server on %s", srv.Addr)
	log.Printf("Uploads: %s (%s naming)", cfg.UploadDir, naming)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
}

// newModelCache opens the model cache and logs how the model will be kept.
func newModelCache(ctx context.Context, mc config.ModelConfig) (*classifier.Cache, error) {
	opts, err := mc.CacheOptions()
	if err != nil {
		return nil, err
	}
	cache, err := classifier.OpenCache(ctx, opts, classifier.OrtOpener(mc.SessionOptions()))
	if err != nil {
		return nil, err
	}

	switch {
	case opts.Policy == classifier.PolicyDiscard:
		log.Printf("%s (%s)", MsgModelDiscard, opts.Source())
	case mc.Remote():
		log.Printf("%s (%s)", MsgModelLazy, opts.Source())
	default:
		log.Printf("%s (%s)", MsgModelResident, opts.Source())
	}
	return cache, nil
}

// newCatalog uses the embedded messages unless dir is set, in which case the
// on-disk files are loaded and reloaded when they change.
func newCatalog(ctx context.Context, dir string) (*i18n.Catalog, error) {
	var fsys fs.FS = assets.Locales()
	if dir != "" {
		fsys = os.DirFS(dir)
	}
	catalog, err := i18n.NewCatalog(fsys)
	if err != nil {
		return nil, err
	}
	if dir != "" {
		go func() {
			if err := catalog.Watch(ctx, dir); err != nil {
				log.Printf("Message watcher stopped: %v", err)
			}
		}()
	}
	log.Printf("Languages with messages: %v", catalog.Languages())
	return catalog, nil
}
