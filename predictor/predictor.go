package predictor

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log"
	"math"
	"time"

	"github.com/cropscan/ergot-detector/classifier"
	"github.com/cropscan/ergot-detector/models"
	"github.com/cropscan/ergot-detector/storage"
	"github.com/disintegration/imaging"

	// extra formats on top of what imaging registers
	_ "golang.org/x/image/webp"
)

// HealthyThreshold is the score a model output must exceed to be Healthy.
const HealthyThreshold = 0.5

var ErrUndecodable = errors.New("upload is not a decodable image")

// Classifier is satisfied by classifier.Cache.
type Classifier interface {
	Classify(ctx context.Context, input []float32) (float32, error)
}

// Upload is one file received from a visitor.
type Upload struct {
	Filename string
	Body     io.Reader
}

type Service struct {
	store        *storage.UploadStore
	model        Classifier
	preprocessor *classifier.Preprocessor
	debug        bool
	now          func() time.Time
}

// NewService builds the prediction pipeline. A nil pre uses the default
// channel order.
func NewService(store *storage.UploadStore, model Classifier, pre *classifier.Preprocessor, debug bool) *Service {
	if pre == nil {
		pre = classifier.NewPreprocessor("")
	}
	return &Service{
		store:        store,
		model:        model,
		preprocessor: pre,
		debug:        debug,
		now:          time.Now,
	}
}

// Predict persists the upload, classifies it and returns the labelled result.
func (s *Service) Predict(ctx context.Context, up Upload) (*models.ClassificationResult, error) {
	startTotal := time.Now()
	timings := &models.ProcessingTimings{}

	persistStart := time.Now()
	stored, err := s.store.Save(up.Filename, up.Body)
	timings.Persist = time.Since(persistStart)
	if err != nil {
		return nil, fmt.Errorf("persist upload: %w", err)
	}
	timings.RequestID = stored.ID

	decodeStart := time.Now()
	img, err := s.decode(stored)
	timings.ImageDecode = time.Since(decodeStart)
	if err != nil {
		return nil, err
	}

	prepStart := time.Now()
	input := s.preprocessor.Process(img)
	timings.Preprocess = time.Since(prepStart)

	inferStart := time.Now()
	score, err := s.model.Classify(ctx, input)
	timings.Inference = time.Since(inferStart)
	if err != nil {
		return nil, fmt.Errorf("classify %s: %w", stored.Name, err)
	}

	label, confidence := Decide(score)
	timings.Total = time.Since(startTotal)
	s.logTimings(timings)

	return &models.ClassificationResult{
		ID:         stored.ID,
		Label:      label,
		Confidence: confidence,
		Score:      score,
		Filename:   stored.Name,
		CreatedAt:  s.now(),
	}, nil
}

func (s *Service) decode(stored *storage.StoredUpload) (image.Image, error) {
	f, err := s.store.Open(stored.Name)
	if err != nil {
		return nil, fmt.Errorf("open upload: %w", err)
	}
	defer f.Close()

	img, err := imaging.Decode(f, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUndecodable, stored.Original, err)
	}
	return img, nil
}

// Decide maps a P(Healthy) score to a label. The displayed confidence is the
// same raw score as a percentage for both labels.
func Decide(score float32) (models.Label, float64) {
	confidence := Confidence(score)
	if score > HealthyThreshold {
		return models.LabelHealthy, confidence
	}
	return models.LabelErgot, confidence
}

// Confidence is score*100 rounded to two decimals and clamped to [0,100].
func Confidence(score float32) float64 {
	v := math.Round(float64(score)*100*100) / 100
	return math.Max(0, math.Min(100, v))
}

func (s *Service) logTimings(t *models.ProcessingTimings) {
	if s.debug {
		log.Printf("[DEBUG] RequestID: %s - Processing times:\n"+
			"\tPersist:     %v\n"+
			"\tImage Decode: %v\n"+
			"\tPreprocess:  %v\n"+
			"\tInference:   %v\n"+
			"\tTotal:       %v",
			t.RequestID,
			t.Persist,
			t.ImageDecode,
			t.Preprocess,
			t.Inference,
			t.Total)
	}
}
