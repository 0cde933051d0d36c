package detector

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// InputKind distinguishes the variants of Input.
type InputKind string

const (
	InputText InputKind = "text"
	InputFile InputKind = "file"
)

// Source returns the alert source label for the input kind.
func (k InputKind) Source() string {
	if k == InputFile {
		return "file-scan"
	}
	return "text-scan"
}

// Input is a single piece of content to analyze: either text or an uploaded
// file. Use NewTextInput or NewFileInput to construct a validated value.
type Input struct {
	Kind InputKind

	// Text is set for text inputs, and for file inputs once textual content
	// has been extracted.
	Text string

	// File fields.
	Data        []byte
	Filename    string
	ContentType string

	// Hash is the hex SHA-256 of the raw content.
	Hash string
}

// ValidationError reports an input rejected before any detector runs.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return ErrInvalidInput.Error() + ": " + e.Field + ": " + e.Reason
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}

// NewTextInput validates text and wraps it as an Input.
func NewTextInput(text string) (*Input, error) {
	if strings.TrimSpace(text) == "" {
		return nil, &ValidationError{Field: "text", Reason: "must not be empty"}
	}
	return &Input{
		Kind: InputText,
		Text: text,
		Hash: hashBytes([]byte(text)),
	}, nil
}

// NewFileInput validates a file upload and wraps it as an Input.
func NewFileInput(data []byte, filename, contentType string) (*Input, error) {
	if len(data) == 0 {
		return nil, &ValidationError{Field: "file", Reason: "must not be zero bytes"}
	}
	return &Input{
		Kind:        InputFile,
		Data:        data,
		Filename:    filename,
		ContentType: contentType,
		Hash:        hashBytes(data),
	}, nil
}

// WithText returns a text view of a file input for text-oriented detectors.
// The returned input keeps the file's hash and name.
func (in *Input) WithText(text string) *Input {
	return &Input{
		Kind:     InputText,
		Text:     text,
		Filename: in.Filename,
		Hash:     in.Hash,
	}
}

// Validate re-checks the constructor invariants for inputs built as struct
// literals, filling in a missing hash.
func (in *Input) Validate() error {
	if in == nil {
		return &ValidationError{Field: "input", Reason: "must not be nil"}
	}
	switch in.Kind {
	case InputText:
		if strings.TrimSpace(in.Text) == "" {
			return &ValidationError{Field: "text", Reason: "must not be empty"}
		}
		if in.Hash == "" {
			in.Hash = hashBytes([]byte(in.Text))
		}
	case InputFile:
		if len(in.Data) == 0 {
			return &ValidationError{Field: "file", Reason: "must not be zero bytes"}
		}
		if in.Hash == "" {
			in.Hash = hashBytes(in.Data)
		}
	default:
		return &ValidationError{Field: "kind", Reason: "unknown input kind " + string(in.Kind)}
	}
	return nil
}

// Size returns the length of the raw content.
func (in *Input) Size() int {
	if in.Kind == InputFile {
		return len(in.Data)
	}
	return len(in.Text)
}

func hashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
