package sensibo

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/rowanhale/hearth-core/internal/adapter"
)

// ErrNoAPIKey indicates the adapter was constructed without credentials.
var ErrNoAPIKey = errors.New("sensibo: api key is required")

// transportError wraps a network-level failure reaching the cloud API.
// It satisfies errors.Is(err, adapter.ErrUnreachable) so the coordinator
// treats it as transient unreachability rather than a protocol fault.
type transportError struct {
	err error
}

func (e *transportError) Error() string {
	return fmt.Sprintf("sensibo: %v", e.err)
}

func (e *transportError) Unwrap() error { return adapter.ErrUnreachable }

// statusError wraps a non-success HTTP or envelope status from the API.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("sensibo: api status %d: %s", e.code, e.body)
}

// Unwrap maps the HTTP status onto the adapter error taxonomy: a 404 is
// an unknown device, a 5xx is backend unreachability, anything else is
// a rejection.
func (e *statusError) Unwrap() error {
	switch {
	case e.code == http.StatusNotFound:
		return adapter.ErrUnknownDevice
	case e.code >= http.StatusInternalServerError:
		return adapter.ErrUnreachable
	default:
		return adapter.ErrRejected
	}
}
