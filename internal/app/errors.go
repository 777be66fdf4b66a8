package app

import "fmt"

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func notFound(message string) *DomainError {
	return domainError(404, "NOT_FOUND", message, nil)
}

func permissionDenied(message string) *DomainError {
	return domainError(403, "PERMISSION_DENIED", message, nil)
}

func invalidState(message string) *DomainError {
	return domainError(409, "INVALID_STATE", message, nil)
}

func validationError(message string) *DomainError {
	return domainError(422, "VALIDATION_ERROR", message, nil)
}

func nothingToUpdate(message string) *DomainError {
	return domainError(404, "NOTHING_TO_UPDATE", message, nil)
}
