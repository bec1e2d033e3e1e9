package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"mime/multipart"
	"net/http"

	"github.com/cropscan/ergot-detector/classifier"
	"github.com/cropscan/ergot-detector/models"
	"github.com/cropscan/ergot-detector/predictor"
	"github.com/cropscan/ergot-detector/storage"
	"github.com/gorilla/mux"
)

type ErrorResponse struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

type HealthResponse struct {
	Status      string `json:"status"`
	Policy      string `json:"policy,omitempty"`
	ModelLoaded bool   `json:"model_loaded"`
	InUse       int    `json:"sessions_in_use"`
}

func (s *Server) handlePage(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.render(w, name, http.StatusOK, s.newPage(r))
	}
}

// handleResult renders the visitor's most recent result. An explicit ?id=
// takes precedence over the session.
func (s *Server) handleResult(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p := s.newPage(r)

		id := r.URL.Query().Get("id")
		if id == "" {
			id, _ = s.session(r).Values[sessionResultKey].(string)
		}
		if result, ok := s.results.Get(id); ok {
			p.Result = result
		}
		s.render(w, name, http.StatusOK, p)
	}
}

func (s *Server) handleSetLanguage(w http.ResponseWriter, r *http.Request) {
	sess := s.session(r)
	sess.Values[sessionLanguageKey] = mux.Vars(r)["language"]
	s.saveSession(w, r, sess)

	target := r.Referer()
	if target == "" {
		target = "/"
	}
	http.Redirect(w, r, target, http.StatusFound)
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	file, header, err := s.formFile(w, r)
	if err != nil {
		s.sendUploadError(w, err)
		return
	}
	defer file.Close()

	result, err := s.predict(r.Context(), file, header)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrInsufficientSpace):
			sendErrorResponse(w, "insufficient_storage", "Server is out of upload space", http.StatusInsufficientStorage)
		case errors.Is(err, classifier.ErrNoModel):
			s.renderError(w, r, http.StatusServiceUnavailable)
		default:
			s.renderError(w, r, http.StatusInternalServerError)
		}
		return
	}

	s.results.Put(result)
	sess := s.session(r)
	sess.Values[sessionResultKey] = result.ID
	s.saveSession(w, r, sess)

	http.Redirect(w, r, viewFor(result.Label), http.StatusFound)
}

// handleAPIPredict returns the result directly instead of redirecting.
func (s *Server) handleAPIPredict(w http.ResponseWriter, r *http.Request) {
	file, header, err := s.formFile(w, r)
	if err != nil {
		s.sendUploadError(w, err)
		return
	}
	defer file.Close()

	result, err := s.predict(r.Context(), file, header)
	if err != nil {
		switch {
		case errors.Is(err, predictor.ErrUndecodable):
			sendErrorResponse(w, "invalid_image", "Failed to decode image", http.StatusUnprocessableEntity)
		case errors.Is(err, storage.ErrInsufficientSpace):
			sendErrorResponse(w, "insufficient_storage", "Server is out of upload space", http.StatusInsufficientStorage)
		case errors.Is(err, classifier.ErrNoModel):
			sendErrorResponse(w, "model_unavailable", "Model is not available", http.StatusServiceUnavailable)
		default:
			sendErrorResponse(w, "processing_error", "Prediction failed", http.StatusInternalServerError)
		}
		return
	}

	s.results.Put(result)
	sendJSON(w, result, http.StatusOK)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := HealthResponse{Status: "healthy"}
	if s.model != nil {
		resp.Policy = string(s.model.Policy())
		resp.ModelLoaded = s.model.Loaded()
		if stats, ok := s.model.Stats(); ok {
			resp.InUse = stats.InUse
		}
	}
	sendJSON(w, resp, http.StatusOK)
}

var errNoFile = errors.New("no file uploaded")

func (s *Server) formFile(w http.ResponseWriter, r *http.Request) (multipart.File, *multipart.FileHeader, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(s.maxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, nil, err
		}
		return nil, nil, errNoFile
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, nil, errNoFile
	}
	return file, header, nil
}

func (s *Server) sendUploadError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		sendErrorResponse(w, "too_large", "Uploaded file is too large", http.StatusRequestEntityTooLarge)
		return
	}
	sendErrorResponse(w, "missing_file", "No file uploaded", http.StatusBadRequest)
}

func (s *Server) predict(ctx context.Context, file multipart.File, header *multipart.FileHeader) (*models.ClassificationResult, error) {
	log.Printf("Received file: %s, size: %d bytes", header.Filename, header.Size)

	result, err := s.predictor.Predict(ctx, predictor.Upload{
		Filename: header.Filename,
		Body:     file,
	})
	if err != nil {
		log.Printf("Prediction error: %v", err)
		return nil, err
	}

	s.metrics.predictions.WithLabelValues(string(result.Label)).Inc()
	log.Printf("Prediction for %s: %s (%.2f)", result.Filename, result.Label, result.Confidence)
	return result, nil
}

func sendJSON(w http.ResponseWriter, data interface{}, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}

func sendErrorResponse(w http.ResponseWriter, code, message string, status int) {
	sendJSON(w, ErrorResponse{Code: code, Error: message}, status)
}
