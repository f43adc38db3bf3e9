package integrity

import (
	"context"
	"strings"
)

// Session is an authenticated connection to an Integrity server.
// Implementations are not required to be safe for concurrent use; the
// checkout pool hands each session to one goroutine at a time.
type Session interface {
	// Run executes a command and returns its response. A non-zero exit code is
	// reported as a *CommandError.
	Run(ctx context.Context, cmd *Command) (*Response, error)

	// Terminate releases the session. Calling it more than once is safe.
	Terminate() error
}

// SessionFactory authenticates and produces new sessions.
type SessionFactory interface {
	// NewSession connects and authenticates. Failures are *ConnectError.
	NewSession(ctx context.Context) (Session, error)
}

// Option is a single --name=value (or bare --name) command option.
type Option struct {
	Name  string
	Value string
}

// Command is a named vendor command with options and a member selection.
type Command struct {
	Name      string
	Options   []Option
	Selection []string
}

// NewCommand creates a command with the given name.
func NewCommand(name string) *Command {
	return &Command{Name: name}
}

// With appends an option with a value.
func (c *Command) With(name, value string) *Command {
	c.Options = append(c.Options, Option{Name: name, Value: value})
	return c
}

// Flag appends a bare option.
func (c *Command) Flag(name string) *Command {
	c.Options = append(c.Options, Option{Name: name})
	return c
}

// Select appends members to the selection.
func (c *Command) Select(members ...string) *Command {
	c.Selection = append(c.Selection, members...)
	return c
}

// Option returns the value of the named option and whether it was set.
func (c *Command) Option(name string) (string, bool) {
	for _, o := range c.Options {
		if o.Name == name {
			return o.Value, true
		}
	}
	return "", false
}

// Args renders the command as CLI arguments, excluding the command name.
func (c *Command) Args() []string {
	args := make([]string, 0, len(c.Options)+len(c.Selection))
	for _, o := range c.Options {
		if o.Value == "" {
			args = append(args, "--"+o.Name)
			continue
		}
		args = append(args, "--"+o.Name+"="+o.Value)
	}
	return append(args, c.Selection...)
}

// String renders the command for logs and error messages.
// Option values named "password" are masked.
func (c *Command) String() string {
	parts := []string{"si", c.Name}
	for _, o := range c.Options {
		switch {
		case o.Name == "password":
			parts = append(parts, "--password=********")
		case o.Value == "":
			parts = append(parts, "--"+o.Name)
		default:
			parts = append(parts, "--"+o.Name+"="+o.Value)
		}
	}
	return strings.Join(append(parts, c.Selection...), " ")
}

// WorkItem is one result entity of a response, with its fields flattened to strings.
type WorkItem struct {
	ID      string
	Context string
	Fields  map[string]string
}

// Field returns a field value and whether it was present.
func (w *WorkItem) Field(name string) (string, bool) {
	v, ok := w.Fields[name]
	return v, ok
}

// Response is the structured result of a command.
type Response struct {
	Command   string
	ExitCode  int
	ResultID  string
	WorkItems []*WorkItem
}

// FirstWorkItem returns the first work item, or nil if there is none.
func (r *Response) FirstWorkItem() *WorkItem {
	if len(r.WorkItems) == 0 {
		return nil
	}
	return r.WorkItems[0]
}
