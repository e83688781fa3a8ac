package research

import (
	"errors"

	"github.com/mikeboe/research-agent/pkg/llm"
)

// Failure classes. They wrap causes for logging; public operations replace
// them with documented defaults instead of returning them.
var (
	ErrUpstream        = errors.New("upstream fault")
	ErrMalformedOutput = errors.New("malformed structured output")
	ErrValidation      = errors.New("validation fault")
)

// fatal keeps only the errors that make the whole pipeline unusable.
func fatal(err error) error {
	if errors.Is(err, llm.ErrUnauthorized) {
		return err
	}
	return nil
}

// IsFatal reports whether err aborts the pipeline.
func IsFatal(err error) bool {
	return fatal(err) != nil
}
