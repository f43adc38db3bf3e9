package integrity_test

import (
	"errors"
	"fmt"
	"testing"

	"integrity-scm/internal/integrity"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want integrity.ErrorClass
	}{
		{"nil", nil, integrity.ClassNone},
		{
			"unbuffered request",
			&integrity.CommandError{Command: "si projectco", ExitCode: 128, Message: "Unbuffered request cannot be repeated"},
			integrity.ClassUnbufferedRequest,
		},
		{
			"not a member",
			&integrity.CommandError{Command: "si lock", ExitCode: 128, Message: "bin/app is not a current or destined or pending member"},
			integrity.ClassMemberNotFound,
		},
		{
			"does not exist",
			&integrity.CommandError{Command: "si revisioninfo", ExitCode: 128, Message: "Member a.c does not exist"},
			integrity.ClassMemberNotFound,
		},
		{
			"wrapped command error",
			fmt.Errorf("checking out a.c: %w", &integrity.CommandError{Message: "unbuffered request cannot be repeated"}),
			integrity.ClassUnbufferedRequest,
		},
		{
			"message takes precedence over command text",
			&integrity.CommandError{Command: "si add does not exist", ExitCode: 128, Message: "permission denied"},
			integrity.ClassFatal,
		},
		{"plain error text", errors.New("unbuffered request cannot be repeated"), integrity.ClassUnbufferedRequest},
		{"connect error", &integrity.ConnectError{Host: "mks", Port: 7001, Err: errors.New("refused")}, integrity.ClassFatal},
		{"other", errors.New("disk full"), integrity.ClassFatal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := integrity.Classify(tt.err); got != tt.want {
				t.Errorf("Classify() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestConnectError_Unwrap(t *testing.T) {
	t.Parallel()

	cause := errors.New("connection refused")
	err := fmt.Errorf("opening session: %w", &integrity.ConnectError{Host: "mks", Port: 7001, User: "build", Err: cause})

	if !errors.Is(err, cause) {
		t.Error("ConnectError does not unwrap to its cause")
	}
	var ce *integrity.ConnectError
	if !errors.As(err, &ce) || ce.User != "build" {
		t.Errorf("errors.As() = %+v", ce)
	}
}
