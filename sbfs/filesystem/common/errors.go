package common

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// FileError is the base error type for all sandbox filesystem failures.
// Each sentinel below carries a stable numeric code matching the W3C
// FileError constants, so callers can branch on either errors.Is or CodeOf.
type FileError struct {
	Code int
	Name string
}

func (e *FileError) Error() string {
	return e.Name
}

// Sentinel errors returned by every public sandbox operation. Operations wrap
// exactly one of these with fmt.Errorf("...: %w", ...) for context.
var (
	ErrNotFound              = &FileError{Code: 1, Name: "entry not found"}
	ErrSecurity              = &FileError{Code: 2, Name: "access outside sandbox denied"}
	ErrAbort                 = &FileError{Code: 3, Name: "operation aborted"}
	ErrNotReadable           = &FileError{Code: 4, Name: "entry not readable"}
	ErrEncoding              = &FileError{Code: 5, Name: "malformed path or URL encoding"}
	ErrNoModificationAllowed = &FileError{Code: 6, Name: "modification not allowed"}
	ErrInvalidState          = &FileError{Code: 7, Name: "object is in an invalid state"}
	ErrSyntax                = &FileError{Code: 8, Name: "syntax error"}
	ErrInvalidModification   = &FileError{Code: 9, Name: "invalid modification"}
	ErrQuotaExceeded         = &FileError{Code: 10, Name: "quota exceeded"}
	ErrTypeMismatch          = &FileError{Code: 11, Name: "type mismatch"}
	ErrPathExists            = &FileError{Code: 12, Name: "path already exists"}
)

// CodeOf extracts the FileError code from err, walking wrapped chains.
// It returns 0 when err carries no FileError.
func CodeOf(err error) int {
	var fe *FileError
	if errors.As(err, &fe) {
		return fe.Code
	}
	return 0
}

// ValidationUtils provides common validation utilities used across packages
type ValidationUtils struct{}

// NewValidationUtils creates a new ValidationUtils instance
func NewValidationUtils() *ValidationUtils {
	return &ValidationUtils{}
}

// ValidateContextCancellation checks if context is cancelled and returns appropriate error
func (vu *ValidationUtils) ValidateContextCancellation(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

// ValidateEntryName validates a single path segment used as an entry name.
// Names may not be empty, contain separators or NUL, or be "." / "..".
func (vu *ValidationUtils) ValidateEntryName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("entry name cannot be empty: %w", ErrSyntax)
	}
	if strings.ContainsAny(name, "/\\\x00") {
		return fmt.Errorf("entry name %q contains invalid characters: %w", name, ErrSyntax)
	}
	if name == "." || name == ".." {
		return fmt.Errorf("entry name %q is reserved: %w", name, ErrSyntax)
	}
	return nil
}

// ValidatePathLength validates that a path is not too long
func (vu *ValidationUtils) ValidatePathLength(path string) error {
	if len(path) > 4096 {
		return fmt.Errorf("path too long (max 4096 characters): %w", ErrSyntax)
	}
	return nil
}

// ValidatePathCharacters validates that a path doesn't contain invalid characters
func (vu *ValidationUtils) ValidatePathCharacters(path string) error {
	if strings.Contains(path, "\x00") {
		return fmt.Errorf("path contains NUL byte: %w", ErrEncoding)
	}
	return nil
}
