package integrity

import (
	"errors"
	"fmt"
	"strings"
)

// ConnectError reports that a session to the server could not be established.
type ConnectError struct {
	Host string
	Port int
	User string
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connecting to %s@%s:%d: %v", e.User, e.Host, e.Port, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// CommandError reports that a remote command finished with a non-zero exit code.
type CommandError struct {
	Command  string
	ExitCode int
	Message  string
}

func (e *CommandError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: exit code %d", e.Command, e.ExitCode)
	}
	return fmt.Sprintf("%s: exit code %d: %s", e.Command, e.ExitCode, e.Message)
}

// ErrorClass is the handling category of a failure.
type ErrorClass int

const (
	ClassNone ErrorClass = iota
	ClassFatal
	// ClassMemberNotFound: the selection is not a member of the project.
	ClassMemberNotFound
	// ClassUnbufferedRequest: a transient transport failure the server reports
	// when it cannot replay a request. Checkout treats it as benign.
	ClassUnbufferedRequest
)

func (c ErrorClass) String() string {
	switch c {
	case ClassNone:
		return "none"
	case ClassMemberNotFound:
		return "member-not-found"
	case ClassUnbufferedRequest:
		return "unbuffered-request"
	default:
		return "fatal"
	}
}

var memberNotFoundMarkers = []string{
	"is not a current or destined or pending member",
	"does not exist",
}

const unbufferedRequestMarker = "unbuffered request cannot be repeated"

// Classify maps an error to its handling class. Vendor message text is only
// ever inspected here.
func Classify(err error) ErrorClass {
	if err == nil {
		return ClassNone
	}
	msg := err.Error()
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) && cmdErr.Message != "" {
		msg = cmdErr.Message
	}
	lower := strings.ToLower(msg)
	if strings.Contains(lower, unbufferedRequestMarker) {
		return ClassUnbufferedRequest
	}
	for _, marker := range memberNotFoundMarkers {
		if strings.Contains(lower, marker) {
			return ClassMemberNotFound
		}
	}
	return ClassFatal
}
