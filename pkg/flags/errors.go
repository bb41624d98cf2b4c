package flags

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
)

var (
	// ErrFlagNotFound is returned when no flag has the requested id
	ErrFlagNotFound = errors.New("flag not found")
	// ErrFlagAlreadyResolved is returned when a verb targets a flag that is no longer pending
	ErrFlagAlreadyResolved = errors.New("flag already resolved")
)

// ValidationError rejects a reviewer edit or tag
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func alreadyResolved(id, status string) error {
	return fmt.Errorf("%w: flag %s is %s", ErrFlagAlreadyResolved, id, status)
}

func notFound(id string) error {
	return fmt.Errorf("%w: %s", ErrFlagNotFound, id)
}

// ToHTTPError maps flag workflow errors onto HTTP errors for an API layer.
// Unrecognised errors become 500s without leaking their message.
func ToHTTPError(err error) error {
	if err == nil {
		return nil
	}
	if httperror.IsHTTPError(err) {
		return err
	}

	var validationErr *ValidationError
	switch {
	case errors.Is(err, ErrFlagNotFound):
		return httperror.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrFlagAlreadyResolved):
		return httperror.NewHTTPError(http.StatusConflict, err.Error())
	case errors.As(err, &validationErr):
		return httperror.NewHTTPError(http.StatusBadRequest, validationErr.Error())
	}
	return httperror.NewHTTPError(http.StatusInternalServerError, "internal error")
}
