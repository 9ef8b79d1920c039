package controller

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownController is returned when a named controller is not reported by
// the provider, even after a full registry refresh.
var ErrUnknownController = errors.New("unknown controller")

// ErrNoCoveringCombination is returned by SelectControllers when no subset of
// the candidate controllers covers the required joints.
var ErrNoCoveringCombination = errors.New("no controller combination covers the required joints")

// ActivationError reports that controllers could not be made active, either
// because the registry is not managing controllers or because the provider
// refused the switch.
type ActivationError struct {
	Controllers []string
	Reason      string
}

func (e *ActivationError) Error() string {
	return fmt.Sprintf("cannot activate controllers [%s]: %s",
		strings.Join(e.Controllers, ", "), e.Reason)
}
