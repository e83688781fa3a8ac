package llm

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrUnauthorized matches (via errors.Is) any ProviderError caused by rejected credentials.
var ErrUnauthorized = errors.New("llm: upstream rejected credentials")

// ErrEmptyResponse is wrapped when a provider answers without any choice.
var ErrEmptyResponse = errors.New("llm: provider returned no choices")

// ProviderError normalizes every upstream fault raised by a provider.
type ProviderError struct {
	Provider string
	Method   string
	Model    string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s %s (model %s): %v", e.Provider, e.Method, e.Model, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

func (e *ProviderError) Is(target error) bool {
	return target == ErrUnauthorized && isAuthFailure(e.Err)
}

// authStatus matches a 401/403 status in the shapes the provider SDKs
// report it ("status code: 401", "Error 403,", "HTTP 401", a leading "401 ").
// Bare digits elsewhere in a message (token counts, ids) do not count.
var authStatus = regexp.MustCompile(`(?:^|status(?:\s+code)?:?|error:?|http(?:/[\d.]+)?)\s*40[13]\b`)

var authMarkers = []string{
	"unauthorized",
	"forbidden",
	"invalid api key",
	"invalid x-api-key",
	"incorrect api key",
	"api key not valid",
	"authentication_error",
	"authentication failed",
	"permission_denied",
	"permission denied",
}

func isAuthFailure(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	if authStatus.MatchString(msg) {
		return true
	}
	for _, marker := range authMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
