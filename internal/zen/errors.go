package zen

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound                   = errors.New("zen: does not exist")
	ErrAlreadyExists              = errors.New("zen: already exists")
	ErrDatabaseDoesNotExist       = errors.New("zen: database does not exist")
	ErrExecutionEngineUnavailable = errors.New("zen: execution engine unavailable")
)

// MissingParametersError names every placeholder left without a value.
type MissingParametersError struct {
	Names []string
}

func (e *MissingParametersError) Error() string {
	return fmt.Sprintf("missing parameters: %s", strings.Join(e.Names, ", "))
}

// ParametersMismatchError names every supplied parameter the query does not use.
type ParametersMismatchError struct {
	Names []string
}

func (e *ParametersMismatchError) Error() string {
	return fmt.Sprintf("parameters not present in query: %s", strings.Join(e.Names, ", "))
}
