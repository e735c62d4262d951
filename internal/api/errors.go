package api

import (
	"errors"
	"fmt"
	"io"
	nethttp "net/http"
	"strings"
)

// ErrFileAlreadyExists indicates a file with the same name already exists in the folder.
// This error is returned when attempting to upload a file that would create a duplicate.
var ErrFileAlreadyExists = errors.New("file already exists")

// maxErrorBody bounds how much of an error response is kept for messages.
const maxErrorBody = 4096

// StatusError is a non-success HTTP response from the platform.
type StatusError struct {
	Op   string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s failed: status %d", e.Op, e.Code)
	}
	return fmt.Sprintf("%s failed: status %d: %s", e.Op, e.Code, e.Body)
}

// StatusCode returns the HTTP status. Lets the retry classifier see it.
func (e *StatusError) StatusCode() int {
	return e.Code
}

func newStatusError(op string, resp *nethttp.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &StatusError{Op: op, Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
}

// IsNotFound reports whether err is a 404 from the platform.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == nethttp.StatusNotFound
}

// IsFileExistsError checks if an error indicates a duplicate file.
//
// This function detects "file already exists" errors from multiple sources:
//  1. Wrapped ErrFileAlreadyExists error
//  2. HTTP 409 Conflict status code
//  3. Error messages containing "already exists", "duplicate", or "conflict"
func IsFileExistsError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrFileAlreadyExists) {
		return true
	}

	var se *StatusError
	if errors.As(err, &se) && se.Code == nethttp.StatusConflict {
		return true
	}

	errStr := strings.ToLower(err.Error())
	conflictIndicators := []string{
		"already exists",
		"duplicate",
		"conflict",
		"file exists",
		"name already in use",
	}

	for _, indicator := range conflictIndicators {
		if strings.Contains(errStr, indicator) {
			return true
		}
	}

	return false
}
