// Package session talks to an Integrity server through the si command-line
// client. Every command runs with --xmlapi and its output is decoded into an
// integrity.Response.
package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"integrity-scm/internal/integrity"
)

// Runner executes the si client and returns its standard output and exit code.
// A non-nil error means the process could not be run at all.
type Runner interface {
	Run(ctx context.Context, name string, args []string) (stdout, stderr []byte, exitCode int, err error)
}

// ExecRunner runs the client with os/exec.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args []string) ([]byte, []byte, int, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && ctx.Err() == nil {
			return stdout.Bytes(), stderr.Bytes(), exitErr.ExitCode(), nil
		}
		return nil, stderr.Bytes(), -1, err
	}
	return stdout.Bytes(), stderr.Bytes(), 0, nil
}

// Config identifies the server and the client binary.
type Config struct {
	SIPath string
	Host   string
	Port   int
	User   string
	// Password is passed as --password on the si connect command line only,
	// where other local users can see it in the process list while connect
	// runs. Leave it empty to rely on an existing client login.
	Password string
}

func (c Config) binary() string {
	if c.SIPath == "" {
		return "si"
	}
	return c.SIPath
}

// ExecFactory creates sessions backed by the si client.
type ExecFactory struct {
	cfg    Config
	runner Runner
	logger integrity.Logger
}

// NewExecFactory creates a factory. A nil runner uses ExecRunner.
func NewExecFactory(cfg Config, runner Runner, logger integrity.Logger) *ExecFactory {
	if runner == nil {
		runner = ExecRunner{}
	}
	if logger == nil {
		logger = integrity.NewNopLogger()
	}
	return &ExecFactory{cfg: cfg, runner: runner, logger: logger}
}

// NewSession connects the client to the server. Later commands reuse the
// client's connection and never carry the password.
func (f *ExecFactory) NewSession(ctx context.Context) (integrity.Session, error) {
	s := &ExecSession{cfg: f.cfg, runner: f.runner, logger: f.logger}
	connect := integrity.NewCommand("connect")
	if f.cfg.Password != "" {
		connect.With("password", f.cfg.Password)
	}
	if _, err := s.Run(ctx, connect); err != nil {
		return nil, &integrity.ConnectError{Host: f.cfg.Host, Port: f.cfg.Port, User: f.cfg.User, Err: err}
	}
	f.logger.Debug("session connected", "host", f.cfg.Host, "port", f.cfg.Port, "user", f.cfg.User)
	return s, nil
}

// ExecSession is a connected si client.
type ExecSession struct {
	cfg    Config
	runner Runner
	logger integrity.Logger

	once sync.Once
}

// Run executes a command against the connected server.
func (s *ExecSession) Run(ctx context.Context, cmd *integrity.Command) (*integrity.Response, error) {
	args := append([]string{cmd.Name}, s.connectionArgs()...)
	args = append(args, "--xmlapi")
	args = append(args, cmd.Args()...)

	stdout, stderr, code, err := s.runner.Run(ctx, s.cfg.binary(), args)
	if err != nil {
		return nil, fmt.Errorf("running %s: %w", cmd, err)
	}

	parsed, perr := parseResponse(stdout)
	if perr != nil {
		if code != 0 {
			return nil, &integrity.CommandError{Command: cmd.String(), ExitCode: code, Message: strings.TrimSpace(string(stderr))}
		}
		return nil, fmt.Errorf("%s: %w", cmd, perr)
	}
	resp := parsed.resp
	if resp.Command == "" {
		resp.Command = cmd.Name
	}
	if !parsed.hasExit {
		resp.ExitCode = code
	}
	if resp.ExitCode != 0 {
		msg := parsed.message
		if msg == "" {
			msg = strings.TrimSpace(string(stderr))
		}
		return resp, &integrity.CommandError{Command: cmd.String(), ExitCode: resp.ExitCode, Message: msg}
	}
	return resp, nil
}

func (s *ExecSession) connectionArgs() []string {
	var args []string
	if s.cfg.Host != "" {
		args = append(args, "--hostname="+s.cfg.Host)
	}
	if s.cfg.Port != 0 {
		args = append(args, "--port="+strconv.Itoa(s.cfg.Port))
	}
	if s.cfg.User != "" {
		args = append(args, "--user="+s.cfg.User)
	}
	return args
}

// Terminate disconnects the client. Only the first call does anything.
func (s *ExecSession) Terminate() error {
	var err error
	s.once.Do(func() {
		_, err = s.Run(context.Background(), integrity.NewCommand("disconnect").Flag("yes"))
		if err != nil {
			err = fmt.Errorf("disconnecting: %w", err)
		}
	})
	return err
}

var (
	_ integrity.SessionFactory = (*ExecFactory)(nil)
	_ integrity.Session        = (*ExecSession)(nil)
)
