package validation

import (
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/devcollab/notifyd/internal/api/errors"
)

// Validator defines the interface for request validation
type Validator interface {
	Validate() error
}

// MaxBodyBytes bounds request bodies
const MaxBodyBytes = 1 << 20

// ParseAndValidate parses a JSON request body and validates it
func ParseAndValidate(r *http.Request, v Validator) error {
	return DecodeAndValidate(http.MaxBytesReader(nil, r.Body, MaxBodyBytes), v)
}

// DecodeAndValidate decodes JSON from body and validates it
func DecodeAndValidate(body io.Reader, v Validator) error {
	if err := json.NewDecoder(body).Decode(v); err != nil {
		if stderrors.Is(err, io.EOF) {
			return errors.ValidationError("empty_request_body", "Request body is empty")
		}
		return errors.ValidationError("invalid_json", "Invalid JSON format: "+err.Error())
	}

	return v.Validate()
}

// Required validates that a string is not blank
func Required(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return errors.ValidationError(
			"required_field_missing",
			field+" is required",
		)
	}
	return nil
}

// MaxLength validates that a string is not longer than the specified max length
func MaxLength(field, value string, maxLen int) error {
	if len(value) > maxLen {
		return errors.ValidationError(
			"max_length_exceeded",
			field+" must be at most "+strconv.Itoa(maxLen)+" characters",
		)
	}
	return nil
}
