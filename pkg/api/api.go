// Package api defines the Threatscope HTTP request and response types.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/brad07/threatscope/pkg/alert"
	"github.com/brad07/threatscope/pkg/registry"
)

// MaxTextBytes is the largest text accepted by the text endpoint.
const MaxTextBytes = 4 << 20

var validate *validator.Validate

func init() {
	validate = validator.New()
	_ = validate.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
}

// AnalyzeTextRequest is the body of POST /v1/analyze/text.
type AnalyzeTextRequest struct {
	Text string `json:"text" validate:"notblank,max=4194304"`
}

// AnalyzeFileRequest is the JSON form of POST /v1/analyze/file. Multipart
// uploads use the form field "file" instead.
type AnalyzeFileRequest struct {
	// Data is the file content, base64 encoded in JSON.
	Data        []byte `json:"data" validate:"required,min=1"`
	Filename    string `json:"filename" validate:"omitempty,max=255"`
	ContentType string `json:"content_type" validate:"omitempty,max=255"`
}

// Validate checks the request.
func (r *AnalyzeTextRequest) Validate() error {
	return validationError(validate.Struct(r))
}

// Validate checks the request.
func (r *AnalyzeFileRequest) Validate() error {
	return validationError(validate.Struct(r))
}

// AlertsQuery is the query string of GET /v1/alerts.
type AlertsQuery struct {
	Limit       int    `validate:"min=0,max=1000"`
	Offset      int    `validate:"min=0"`
	Type        string `validate:"omitempty,oneof=phishing code_injection sensitive_data file_threat network_traffic dynamic_behavior data_quality"`
	MinSeverity string `validate:"omitempty,oneof=info low medium high critical"`
	RequestID   string `validate:"omitempty,uuid"`
}

// Validate checks the query.
func (q *AlertsQuery) Validate() error {
	return validationError(validate.Struct(q))
}

// DetectorsResponse lists the registry state of every capability.
type DetectorsResponse struct {
	Detectors []registry.State `json:"detectors"`
	Ready     int              `json:"ready"`
	Builtins  []string         `json:"builtins,omitempty"`
}

// AlertsResponse lists stored alerts.
type AlertsResponse struct {
	Alerts []alert.Record `json:"alerts"`
	Count  int            `json:"count"`
}

// ReloadResponse reports the state of a capability after a reload.
type ReloadResponse struct {
	State registry.State `json:"state"`
	Error string         `json:"error,omitempty"`
}

// ErrorResponse represents an API error.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Details string `json:"details,omitempty"`
}

// WriteJSON writes a JSON response.
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// WriteError writes a JSON error response.
func WriteError(w http.ResponseWriter, status int, code, message string) {
	WriteJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}

// WriteErrorDetails writes a JSON error response with details.
func WriteErrorDetails(w http.ResponseWriter, status int, code, message, details string) {
	WriteJSON(w, status, ErrorResponse{
		Error:   message,
		Code:    code,
		Details: details,
	})
}

// validationError flattens validator errors into one readable message.
func validationError(err error) error {
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.ToLower(fe.Field())
		switch fe.Tag() {
		case "notblank", "required":
			msgs = append(msgs, field+" is required")
		case "max":
			msgs = append(msgs, fmt.Sprintf("%s exceeds %s", field, fe.Param()))
		case "min":
			msgs = append(msgs, fmt.Sprintf("%s must be at least %s", field, fe.Param()))
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of: %s", field, fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s", field, fe.Tag()))
		}
	}
	return errors.New(strings.Join(msgs, "; "))
}
