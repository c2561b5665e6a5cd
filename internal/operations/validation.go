package operations

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/tech-arch1tect/berth-archiver/internal/archiver"
	"github.com/tech-arch1tect/berth-archiver/internal/validation"
)

var (
	ErrInvalidOperation = errors.New("invalid operation")
	ErrInvalidFilter    = errors.New("invalid filter")
)

const maxFilterLength = 256

var invalidFilterChars = regexp.MustCompile(`[\x00-\x1f\x7f"<>|]`)

func ValidateOperationRequest(req OperationRequest) error {
	if !archiver.Operation(req.Operation).Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidOperation, req.Operation)
	}

	if err := validation.ValidateRelativePath(req.Source); err != nil {
		return fmt.Errorf("source: %w", err)
	}

	if err := validation.ValidateRelativePath(req.Destination); err != nil {
		return fmt.Errorf("destination: %w", err)
	}

	return validateFilter(req.Filter)
}

// validateFilter accepts 7-Zip wildcard patterns. They may not look like a
// switch or reach outside the archive root.
func validateFilter(filter string) error {
	if filter == "" {
		return nil
	}

	if len(filter) > maxFilterLength {
		return ErrInvalidFilter
	}

	if invalidFilterChars.MatchString(filter) {
		return ErrInvalidFilter
	}

	if strings.HasPrefix(filter, "-") || strings.HasPrefix(filter, "@") {
		return ErrInvalidFilter
	}

	for _, segment := range strings.FieldsFunc(filter, func(r rune) bool { return r == '/' || r == '\\' }) {
		if segment == ".." {
			return ErrInvalidFilter
		}
	}

	return nil
}
