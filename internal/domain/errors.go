package domain

import "fmt"

// Error types for domain-specific errors
type ErrorType string

const (
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeUpload     ErrorType = "upload"
	ErrorTypeExtraction ErrorType = "extraction"
	ErrorTypePipeline   ErrorType = "pipeline"
	ErrorTypeAPI        ErrorType = "api"
	ErrorTypeConfig     ErrorType = "config"
	ErrorTypeStorage    ErrorType = "storage"
	ErrorTypePDF        ErrorType = "pdf"
)

// DomainError represents a domain-specific error with context
type DomainError struct {
	Type    ErrorType
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewError creates a new domain error
func NewError(errType ErrorType, message string, err error) *DomainError {
	return &DomainError{
		Type:    errType,
		Message: message,
		Err:     err,
	}
}

// Common error constructors
func ValidationError(message string, err error) *DomainError {
	return NewError(ErrorTypeValidation, message, err)
}

// UploadError marks a failed remote registration of a document. It is fatal
// to the extraction run that needed it.
func UploadError(message string, err error) *DomainError {
	return NewError(ErrorTypeUpload, message, err)
}

// ExtractionError marks a single page's recognition failure. The orchestrator
// isolates it to the page; it never aborts a run.
func ExtractionError(message string, err error) *DomainError {
	return NewError(ErrorTypeExtraction, message, err)
}

// PipelineError marks a failure outside the per-page loop. It aborts the run
// and leaves the document in the failed state.
func PipelineError(message string, err error) *DomainError {
	return NewError(ErrorTypePipeline, message, err)
}

func APIError(message string, err error) *DomainError {
	return NewError(ErrorTypeAPI, message, err)
}

func ConfigError(message string, err error) *DomainError {
	return NewError(ErrorTypeConfig, message, err)
}

func StorageError(message string, err error) *DomainError {
	return NewError(ErrorTypeStorage, message, err)
}

func PDFError(message string, err error) *DomainError {
	return NewError(ErrorTypePDF, message, err)
}

// IsType reports whether err is a DomainError of the given type.
func IsType(err error, t ErrorType) bool {
	for err != nil {
		if de, ok := err.(*DomainError); ok && de.Type == t {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
