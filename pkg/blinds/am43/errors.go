package am43

import (
	"errors"
	"fmt"
	"time"

	"github.com/mlsorensen/goam43"
)

// ErrAckTimeout matches every AckTimeoutError with errors.Is.
var ErrAckTimeout = errors.New("no reply from motor")

// AckTimeoutError is returned when the motor does not send the expected reply in time.
type AckTimeoutError struct {
	Device  string
	Kind    goam43.EventKind
	Timeout time.Duration
}

func (e *AckTimeoutError) Error() string {
	return fmt.Sprintf("no %s reply from %s within %s", e.Kind, e.Device, e.Timeout)
}

func (e *AckTimeoutError) Is(target error) bool { return target == ErrAckTimeout }
