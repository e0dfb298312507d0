package server

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/hyperjump/indexd/internal/models"
)

const defaultMaxBodyBytes = 2 << 20

// requestError carries the status a request failure should be answered with.
type requestError struct {
	status  int
	message string
}

func (e *requestError) Error() string { return e.message }

func badRequest(format string, args ...any) *requestError {
	return &requestError{status: http.StatusBadRequest, message: fmt.Sprintf(format, args...)}
}

func unavailable(format string, args ...any) *requestError {
	return &requestError{status: http.StatusServiceUnavailable, message: fmt.Sprintf(format, args...)}
}

type validator interface {
	Validate() error
}

// decodeJSON reads a JSON body into v:
//   - a missing or non-JSON Content-Type yields 415
//   - a body over the configured limit yields 413
//   - malformed JSON yields 400
//   - a wrong type or missing field yields 422
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, v any) *requestError {
	if !isJSON(r.Header.Get("Content-Type")) {
		return &requestError{
			status:  http.StatusUnsupportedMediaType,
			message: "Missing or invalid Content-Type header. Expected 'application/json'",
		}
	}

	limit := s.config.Server.MaxBodyBytes
	if limit <= 0 {
		limit = defaultMaxBodyBytes
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return &requestError{
				status:  http.StatusRequestEntityTooLarge,
				message: fmt.Sprintf("Request body too large: length limit of %d bytes exceeded", tooLarge.Limit),
			}
		}
		return badRequest("Failed to read request body: %v", err)
	}

	if err := json.Unmarshal(body, v); err != nil {
		return classifyDecodeError(err)
	}
	if val, ok := v.(validator); ok {
		if err := val.Validate(); err != nil {
			return &requestError{
				status:  http.StatusUnprocessableEntity,
				message: "Failed to deserialize the JSON body into the target type: " + err.Error(),
			}
		}
	}
	return nil
}

func classifyDecodeError(err error) *requestError {
	var (
		typeErr  *json.UnmarshalTypeError
		fieldErr *models.FieldError
	)
	if errors.As(err, &typeErr) || errors.As(err, &fieldErr) {
		return &requestError{
			status:  http.StatusUnprocessableEntity,
			message: "Failed to deserialize the JSON body into the target type: " + err.Error(),
		}
	}
	return badRequest("Failed to parse the request body as JSON: %v", err)
}

func isJSON(contentType string) bool {
	if contentType == "" {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "application/json" ||
		(strings.HasPrefix(mediaType, "application/") && strings.HasSuffix(mediaType, "+json"))
}
