package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/ahrav/go-anthro/infrastructure/normalize"
	"github.com/ahrav/go-anthro/internal/domain"
	"github.com/ahrav/go-anthro/internal/ports"
)

// multipartMemory is the in-memory threshold passed to ParseMultipartForm.
const multipartMemory = 4 << 20

var allowedExtensions = map[string]bool{".csv": true, ".tsv": true}

// errBadUpload marks a batch request whose multipart body could not be read.
var errBadUpload = errors.New("malformed upload")

type errorBody struct {
	Message     string            `json:"erro"`
	Stage       string            `json:"etapa,omitempty"`
	Field       string            `json:"campo,omitempty"`
	Missing     []string          `json:"colunas_ausentes,omitempty"`
	Suggestions map[string]string `json:"sugestoes,omitempty"`
}

// POST /api/score/individual
//
// The body is a JSON object keyed by field name or any accepted column
// alias. Values may be strings or numbers and go through the same
// normalizer as batch cells.
func (s *Server) scoreIndividual(w http.ResponseWriter, r *http.Request) {
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	var body map[string]any
	if err := dec.Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Message: "invalid JSON body: " + err.Error()})
		return
	}

	cells, err := cellsFromJSON(body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Message: err.Error()})
		return
	}

	rec, err := s.normalizer.Normalize(cells, 0)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	res, err := s.scorer.Score(r.Context(), rec)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// POST /api/score/batch (multipart: file=measurements.csv)
func (s *Server) scoreBatch(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		s.fail(w, r, fmt.Errorf("%w: %w", errBadUpload, err))
		return
	}

	f, hdr, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Message: "file required"})
		return
	}
	defer f.Close()

	if !allowedExtensions[strings.ToLower(filepath.Ext(hdr.Filename))] {
		writeJSON(w, http.StatusBadRequest, errorBody{
			Message: fmt.Sprintf("unsupported file type %q: use .csv or .tsv", hdr.Filename),
		})
		return
	}

	payload, err := io.ReadAll(f)
	if err != nil {
		s.fail(w, r, fmt.Errorf("read upload: %w", err))
		return
	}

	outcome, err := s.batch.Process(r.Context(), payload, hdr.Filename)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.logger.Infof("batch %s: file=%s rows=%d results=%d errors=%d",
		outcome.ID, outcome.Filename, outcome.TotalRows, len(outcome.Results), len(outcome.Errors))
	writeJSON(w, http.StatusOK, outcome)
}

// cellsFromJSON rekeys a JSON object onto canonical fields. Unknown keys
// are ignored. A canonical key beats its aliases; among aliases the
// lexically first wins.
func cellsFromJSON(body map[string]any) (map[string]string, error) {
	cells := make(map[string]string, len(body))
	keys := make([]string, 0, len(body))
	for k := range body {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		field, ok := normalize.CanonicalField(k)
		if !ok {
			continue
		}
		if _, seen := cells[field]; seen && k != field {
			continue
		}
		v, err := cellString(body[k])
		if err != nil {
			return nil, fmt.Errorf("%s: %w", k, err)
		}
		cells[field] = v
	}
	return cells, nil
}

func cellString(v any) (string, error) {
	switch t := v.(type) {
	case nil:
		return "", nil
	case string:
		return t, nil
	case json.Number:
		return t.String(), nil
	default:
		return "", fmt.Errorf("expected string or number, got %T", v)
	}
}

// statusFor maps an error onto an HTTP status. Input and file problems
// are the caller's; storage failures are ours.
func statusFor(err error) int {
	var (
		lookupErr *ports.LookupError
		maxErr    *http.MaxBytesError
		fileErr   *domain.FileError
		fieldErr  *domain.FieldError
	)
	switch {
	case errors.As(err, &lookupErr):
		return http.StatusInternalServerError
	case errors.As(err, &maxErr):
		return http.StatusRequestEntityTooLarge
	case errors.As(err, &fileErr), errors.As(err, &fieldErr),
		errors.Is(err, domain.ErrInvalidDateRange),
		errors.Is(err, domain.ErrInvalidMeasurement),
		errors.Is(err, errBadUpload):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	body := errorBody{Message: err.Error()}

	var fileErr *domain.FileError
	if errors.As(err, &fileErr) {
		body.Stage = fileErr.Stage
		body.Missing = fileErr.Missing
		body.Suggestions = fileErr.Suggestions
	}
	var fieldErr *domain.FieldError
	if errors.As(err, &fieldErr) {
		body.Field = fieldErr.Field
	}

	reqID := middleware.GetReqID(r.Context())
	if status >= http.StatusInternalServerError {
		s.logger.Errorf("%s %s [%s]: %v", r.Method, r.URL.Path, reqID, err)
		body.Message = "internal error"
		if status == http.StatusServiceUnavailable {
			body.Message = "request cancelled"
		}
	} else {
		s.logger.Warnf("%s %s [%s]: %v", r.Method, r.URL.Path, reqID, err)
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
