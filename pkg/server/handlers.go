package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/brad07/threatscope/pkg/alert"
	"github.com/brad07/threatscope/pkg/api"
	"github.com/brad07/threatscope/pkg/detector"
	"github.com/brad07/threatscope/pkg/registry"
	"github.com/brad07/threatscope/pkg/risk"
)

const defaultAlertLimit = 50

// errTooLarge marks request bodies over the upload limit.
var errTooLarge = errors.New("request body too large")

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	api.WriteJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

// handleReady reports ready once at least one detector can serve requests.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ready := s.detectors.ReadyCount()
	if ready == 0 {
		api.WriteError(w, http.StatusServiceUnavailable, "not_ready", "No detector is ready")
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{
		"status":          "ready",
		"ready_detectors": ready,
	})
}

// handleAnalyze accepts either a JSON text body or a multipart file upload.
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if isMultipart(r) {
		s.handleAnalyzeFile(w, r)
		return
	}

	var req struct {
		api.AnalyzeTextRequest
		Data        []byte `json:"data"`
		Filename    string `json:"filename"`
		ContentType string `json:"content_type"`
	}
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.writeDecodeError(w, err)
		return
	}

	if len(req.Data) > 0 {
		file := api.AnalyzeFileRequest{Data: req.Data, Filename: req.Filename, ContentType: req.ContentType}
		if err := file.Validate(); err != nil {
			api.WriteErrorDetails(w, http.StatusBadRequest, "invalid_input", "Invalid file request", err.Error())
			return
		}
		in, err := detector.NewFileInput(file.Data, file.Filename, file.ContentType)
		s.analyze(w, r, in, err)
		return
	}

	if err := req.AnalyzeTextRequest.Validate(); err != nil {
		api.WriteErrorDetails(w, http.StatusBadRequest, "invalid_input", "Invalid text request", err.Error())
		return
	}
	in, err := detector.NewTextInput(req.Text)
	s.analyze(w, r, in, err)
}

// handleAnalyzeText analyzes a JSON {"text": ...} body or a text/plain body.
func (s *Server) handleAnalyzeText(w http.ResponseWriter, r *http.Request) {
	var req api.AnalyzeTextRequest

	if mediaType(r) == "text/plain" {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.config.MaxUploadBytes))
		if err != nil {
			s.writeDecodeError(w, bodyError(err))
			return
		}
		req.Text = string(body)
	} else if err := s.decodeJSON(w, r, &req); err != nil {
		s.writeDecodeError(w, err)
		return
	}

	if err := req.Validate(); err != nil {
		api.WriteErrorDetails(w, http.StatusBadRequest, "invalid_input", "Invalid text request", err.Error())
		return
	}
	in, err := detector.NewTextInput(req.Text)
	s.analyze(w, r, in, err)
}

// handleAnalyzeFile analyzes a multipart upload (field "file"), a JSON
// AnalyzeFileRequest, or a raw body named by the filename query parameter.
func (s *Server) handleAnalyzeFile(w http.ResponseWriter, r *http.Request) {
	var req api.AnalyzeFileRequest

	switch {
	case isMultipart(r):
		r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxUploadBytes)
		if err := r.ParseMultipartForm(s.config.MaxUploadBytes); err != nil {
			s.writeDecodeError(w, bodyError(err))
			return
		}
		defer func() {
			if r.MultipartForm != nil {
				_ = r.MultipartForm.RemoveAll()
			}
		}()

		f, header, err := r.FormFile("file")
		if err != nil {
			api.WriteErrorDetails(w, http.StatusBadRequest, "invalid_input", "Missing file", "multipart field \"file\" is required")
			return
		}
		defer f.Close()

		data, err := io.ReadAll(f)
		if err != nil {
			s.writeDecodeError(w, bodyError(err))
			return
		}
		req = api.AnalyzeFileRequest{
			Data:        data,
			Filename:    header.Filename,
			ContentType: header.Header.Get("Content-Type"),
		}

	case mediaType(r) == "application/json":
		if err := s.decodeJSON(w, r, &req); err != nil {
			s.writeDecodeError(w, err)
			return
		}

	default:
		data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.config.MaxUploadBytes))
		if err != nil {
			s.writeDecodeError(w, bodyError(err))
			return
		}
		req = api.AnalyzeFileRequest{
			Data:        data,
			Filename:    r.URL.Query().Get("filename"),
			ContentType: r.Header.Get("Content-Type"),
		}
	}

	if err := req.Validate(); err != nil {
		api.WriteErrorDetails(w, http.StatusBadRequest, "invalid_input", "Invalid file request", err.Error())
		return
	}
	in, err := detector.NewFileInput(req.Data, req.Filename, req.ContentType)
	s.analyze(w, r, in, err)
}

// analyze runs the orchestrator and writes the report. A cancelled request
// gets no response: the client is gone.
func (s *Server) analyze(w http.ResponseWriter, r *http.Request, in *detector.Input, inputErr error) {
	var report *risk.Report
	err := inputErr
	if err == nil {
		report, err = s.analyzer.Run(r.Context(), in)
	}

	var verr *detector.ValidationError
	switch {
	case err == nil:
		api.WriteJSON(w, http.StatusOK, report)
	case errors.As(err, &verr):
		api.WriteErrorDetails(w, http.StatusBadRequest, "invalid_input", "Invalid analysis input", verr.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		s.logger.Debug("analysis abandoned", "path", r.URL.Path, "error", err)
	default:
		s.logger.Error("analysis failed", "error", err)
		api.WriteError(w, http.StatusInternalServerError, "analysis_failed", "Analysis failed")
	}
}

// handleListDetectors lists every capability with its load state.
func (s *Server) handleListDetectors(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	builtins := s.builtins
	s.mu.RUnlock()

	api.WriteJSON(w, http.StatusOK, api.DetectorsResponse{
		Detectors: s.detectors.States(),
		Ready:     s.detectors.ReadyCount(),
		Builtins:  builtins,
	})
}

// handleReloadDetector reloads one capability from its configured source.
// A failed reload keeps the previous adapter serving.
func (s *Server) handleReloadDetector(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	reloader := s.reloader
	s.mu.RUnlock()

	if reloader == nil {
		api.WriteError(w, http.StatusServiceUnavailable, "reload_unavailable", "Detector reload is not configured")
		return
	}

	c, err := detector.ParseCapability(r.PathValue("capability"))
	if err != nil {
		api.WriteErrorDetails(w, http.StatusBadRequest, "unknown_capability", "Unknown capability", err.Error())
		return
	}

	err = reloader.Reload(r.Context(), c)
	if errors.Is(err, registry.ErrNotRegistered) {
		api.WriteErrorDetails(w, http.StatusNotFound, "not_configured", "Capability is not configured", err.Error())
		return
	}

	state, _ := s.detectors.State(c)
	resp := api.ReloadResponse{State: state}
	status := http.StatusOK
	if err != nil {
		s.logger.Warn("detector reload failed", "capability", c, "error", err)
		resp.Error = err.Error()
		status = http.StatusBadGateway
	}
	api.WriteJSON(w, status, resp)
}

// handleListAlerts lists stored alerts, newest first.
func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	querier := s.alertQuerier()
	if querier == nil {
		api.WriteError(w, http.StatusNotImplemented, "alerts_not_queryable", "The configured alert sink cannot be queried")
		return
	}

	q := r.URL.Query()
	query := api.AlertsQuery{
		Limit:       defaultAlertLimit,
		Type:        q.Get("type"),
		MinSeverity: strings.ToLower(q.Get("min_severity")),
		RequestID:   q.Get("request_id"),
	}
	var err error
	if v := q.Get("limit"); v != "" {
		if query.Limit, err = strconv.Atoi(v); err != nil {
			api.WriteErrorDetails(w, http.StatusBadRequest, "invalid_query", "Invalid limit", err.Error())
			return
		}
	}
	if v := q.Get("offset"); v != "" {
		if query.Offset, err = strconv.Atoi(v); err != nil {
			api.WriteErrorDetails(w, http.StatusBadRequest, "invalid_query", "Invalid offset", err.Error())
			return
		}
	}
	if err := query.Validate(); err != nil {
		api.WriteErrorDetails(w, http.StatusBadRequest, "invalid_query", "Invalid alerts query", err.Error())
		return
	}

	opts := alert.QueryOptions{
		Limit:       query.Limit,
		Offset:      query.Offset,
		Type:        detector.Capability(query.Type),
		MinSeverity: risk.Level(query.MinSeverity),
		RequestID:   query.RequestID,
	}
	if v := q.Get("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			api.WriteErrorDetails(w, http.StatusBadRequest, "invalid_query", "Invalid since", "since must be RFC 3339")
			return
		}
		opts.Since = &since
	}

	recs, err := querier.Query(r.Context(), opts)
	if err != nil {
		s.logger.Error("alert query failed", "error", err)
		api.WriteError(w, http.StatusInternalServerError, "query_failed", "Failed to query alerts")
		return
	}
	api.WriteJSON(w, http.StatusOK, api.AlertsResponse{Alerts: recs, Count: len(recs)})
}

// handleGetAlert returns one stored alert.
func (s *Server) handleGetAlert(w http.ResponseWriter, r *http.Request) {
	querier := s.alertQuerier()
	if querier == nil {
		api.WriteError(w, http.StatusNotImplemented, "alerts_not_queryable", "The configured alert sink cannot be queried")
		return
	}

	rec, err := querier.Get(r.Context(), r.PathValue("id"))
	if errors.Is(err, alert.ErrNotFound) {
		api.WriteError(w, http.StatusNotFound, "not_found", "Alert not found")
		return
	}
	if err != nil {
		s.logger.Error("alert lookup failed", "error", err)
		api.WriteError(w, http.StatusInternalServerError, "query_failed", "Failed to load alert")
		return
	}
	api.WriteJSON(w, http.StatusOK, rec)
}

func (s *Server) alertQuerier() alert.Querier {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.alerts
}

// decodeJSON decodes a size-limited JSON body.
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.config.MaxUploadBytes))
	if err := dec.Decode(v); err != nil {
		return bodyError(err)
	}
	return nil
}

func (s *Server) writeDecodeError(w http.ResponseWriter, err error) {
	if errors.Is(err, errTooLarge) {
		api.WriteErrorDetails(w, http.StatusRequestEntityTooLarge, "too_large", "Request body too large",
			fmt.Sprintf("limit is %d bytes", s.config.MaxUploadBytes))
		return
	}
	api.WriteErrorDetails(w, http.StatusBadRequest, "invalid_body", "Failed to parse request body", err.Error())
}

// bodyError maps body read failures caused by the size limit to errTooLarge.
func bodyError(err error) error {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) || strings.Contains(err.Error(), "request body too large") {
		return fmt.Errorf("%w: %v", errTooLarge, err)
	}
	return err
}

func mediaType(r *http.Request) string {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return ""
	}
	return mt
}

func isMultipart(r *http.Request) bool {
	return mediaType(r) == "multipart/form-data"
}
