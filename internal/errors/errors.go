package errors

import "errors"

// DomainError is a business rule violation. Sentinels are compared with
// errors.Is, so wrap them with %w when adding context.
type DomainError struct {
	Code    string
	Message string
}

func (e *DomainError) Error() string {
	return e.Message
}

// Code returns the DomainError code carried anywhere in err's chain, or "".
func Code(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// IsDomain reports whether err wraps a DomainError.
func IsDomain(err error) bool {
	return Code(err) != ""
}
