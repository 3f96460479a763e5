package shutter

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrCommandFailed = errors.New("command failed")
	ErrInvalidConfig = errors.New("invalid config")
)

// CommandError reports a position or stop command the device did not accept.
type CommandError struct {
	Name string
	Err  error
}

func NewCommandError(name string, err error) *CommandError {
	return &CommandError{Name: name, Err: err}
}

func (e *CommandError) Error() string {
	reason := "unknown reason"
	if e.Err != nil {
		reason = e.Err.Error()
	}
	return fmt.Sprintf("%s: %s: %s", e.Name, ErrCommandFailed, reason)
}

func (e *CommandError) Is(err error) bool {
	return err == ErrCommandFailed
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

func InvalidConfigf(format string, args ...interface{}) error {
	return errors.Wrapf(ErrInvalidConfig, format, args...)
}
