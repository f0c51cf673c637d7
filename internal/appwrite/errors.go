package appwrite

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

var (
	ErrNotFound      = errors.New("appwrite: resource not found")
	ErrAlreadyExists = errors.New("appwrite: resource already exists")
	// ErrInvalidStructure is a document rejected by the collection schema,
	// typically because an attribute is missing.
	ErrInvalidStructure = errors.New("appwrite: invalid document structure")
)

const typeInvalidStructure = "document_invalid_structure"

// Error is the error body Appwrite returns for non-2xx responses.
type Error struct {
	Code    int    `json:"code"`
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("%s (%d %s)", e.Message, e.Code, e.Type)
	}
	return fmt.Sprintf("%s (%d)", e.Message, e.Code)
}

// Is matches ErrNotFound for 404 responses, ErrAlreadyExists for 409 and
// ErrInvalidStructure for 400 document_invalid_structure errors.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Code == http.StatusNotFound
	case ErrAlreadyExists:
		return e.Code == http.StatusConflict
	case ErrInvalidStructure:
		return e.Code == http.StatusBadRequest && strings.HasPrefix(e.Type, typeInvalidStructure)
	default:
		return false
	}
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

func IsInvalidStructure(err error) bool {
	return errors.Is(err, ErrInvalidStructure)
}

func decodeError(resp *http.Response) error {
	payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))

	apiErr := &Error{}
	if err := json.Unmarshal(payload, apiErr); err != nil || apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(payload))
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
	}

	// The body code is informational; the HTTP status is authoritative.
	apiErr.Code = resp.StatusCode

	return apiErr
}
