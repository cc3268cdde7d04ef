package services

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel markers used to classify stage and task failures. The worker
// runtime retries ErrTransient failures with backoff and treats everything
// unclassified as transient; ErrPermanent short-circuits straight to a
// terminal failure.
var (
	ErrPermanent     = errors.New("permanent failure")
	ErrTransient     = errors.New("transient failure")
	ErrValidation    = errors.New("validation error")
	ErrNotFound      = errors.New("not found")
	ErrConfiguration = errors.New("configuration error")
)

// Wrap builds an error message that includes component context while tagging
// it with the provided marker for later classification. The marker should be
// one of the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// IsPermanent reports whether err is classified as a permanent failure that
// must not be retried.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrPermanent) || errors.Is(err, ErrValidation) || errors.Is(err, ErrConfiguration)
}

// IsTransient reports whether err should go through the retry/backoff path.
// Unclassified errors default to transient so redelivery semantics stay
// uniform regardless of error identity.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	return !IsPermanent(err)
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}

// Message extracts the human-readable portion of a classified error, with the
// marker prefix stripped so persisted error detail stays readable.
func Message(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	for _, marker := range []error{ErrPermanent, ErrTransient, ErrValidation, ErrNotFound, ErrConfiguration} {
		prefix := marker.Error() + ": "
		if strings.HasPrefix(msg, prefix) {
			return strings.TrimPrefix(msg, prefix)
		}
	}
	return msg
}
