package testutil

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"integrity-scm/internal/integrity"
)

// FakeMember is a member revision held by a FakeServer.
type FakeMember struct {
	// Name is the full member path, e.g. /repo/app/src/main.c.
	Name        string
	MemberID    string
	Revision    string
	Description string
	Author      string
	// ConfigPath is the containing project; defaults to the server's.
	ConfigPath string
	Timestamp  time.Time
	Content    []byte
}

// FakeServer is an in-memory Integrity server implementing
// integrity.SessionFactory. Safe for concurrent use.
type FakeServer struct {
	mu sync.Mutex

	projectName    string
	projectType    string
	configPath     string
	lastCheckpoint time.Time

	members     map[string]*FakeMember
	subprojects []string

	workspace *MockWorkspace

	connectErr     error
	checkoutErrors map[string]string
	authorErrors   map[string]string

	created    int
	terminated int
	checkouts  map[string]int
	commands   []string
	nextCP     int
	checkedIn  []string
	added      []string
	submitted  []string
}

// NewFakeServer creates a server hosting a single Normal project.
func NewFakeServer(projectName, configPath string) *FakeServer {
	return &FakeServer{
		projectName:    projectName,
		projectType:    integrity.ProjectTypeNormal,
		configPath:     configPath,
		lastCheckpoint: time.Date(2024, 1, 10, 8, 0, 0, 0, time.UTC),
		members:        make(map[string]*FakeMember),
		checkoutErrors: make(map[string]string),
		authorErrors:   make(map[string]string),
		checkouts:      make(map[string]int),
	}
}

// SetWorkspace makes checkouts write member content into ws.
func (s *FakeServer) SetWorkspace(ws *MockWorkspace) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workspace = ws
}

// PutMember adds or replaces a member, keyed by member ID.
func (s *FakeServer) PutMember(m FakeMember) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ConfigPath == "" {
		m.ConfigPath = s.configPath
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Date(2024, 1, 12, 14, 30, 0, 0, time.UTC)
	}
	if m.Content == nil {
		m.Content = []byte(m.MemberID + "@" + m.Revision)
	}
	s.members[m.MemberID] = &m
}

// RemoveMember drops a member from the project.
func (s *FakeServer) RemoveMember(memberID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.members, memberID)
}

// AddSubproject adds a sub-project by its project file name.
func (s *FakeServer) AddSubproject(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subprojects = append(s.subprojects, name)
}

// FailConnect makes NewSession fail with err.
func (s *FakeServer) FailConnect(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connectErr = err
}

// FailCheckout makes every checkout of memberID fail with message.
func (s *FakeServer) FailCheckout(memberID, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkoutErrors[memberID] = message
}

// FailAuthor makes author lookups of memberID fail with message.
func (s *FakeServer) FailAuthor(memberID, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authorErrors[memberID] = message
}

// SessionsCreated returns how many sessions were opened.
func (s *FakeServer) SessionsCreated() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.created
}

// SessionsTerminated returns how many sessions were terminated.
func (s *FakeServer) SessionsTerminated() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.terminated
}

// Checkouts returns how many times each member was checked out.
func (s *FakeServer) Checkouts() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int, len(s.checkouts))
	for k, v := range s.checkouts {
		out[k] = v
	}
	return out
}

// CommandCount returns how many times a command ran.
func (s *FakeServer) CommandCount(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.commands {
		if c == name {
			n++
		}
	}
	return n
}

// CheckedIn returns the members checked in, in order.
func (s *FakeServer) CheckedIn() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.checkedIn...)
}

// Added returns the members added, in order.
func (s *FakeServer) Added() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.added...)
}

// Submitted returns the submitted change package IDs.
func (s *FakeServer) Submitted() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.submitted...)
}

func (s *FakeServer) NewSession(ctx context.Context) (integrity.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connectErr != nil {
		return nil, &integrity.ConnectError{Host: "fake", Port: 7001, User: "build", Err: s.connectErr}
	}
	s.created++
	return &fakeSession{server: s}, nil
}

type fakeSession struct {
	server *FakeServer
	once   sync.Once
}

func (f *fakeSession) Terminate() error {
	f.once.Do(func() {
		f.server.mu.Lock()
		f.server.terminated++
		f.server.mu.Unlock()
	})
	return nil
}

func (f *fakeSession) Run(ctx context.Context, cmd *integrity.Command) (*integrity.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s := f.server
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commands = append(s.commands, cmd.Name)

	resp := &integrity.Response{Command: cmd.Name}
	switch cmd.Name {
	case "projectinfo":
		resp.WorkItems = []*integrity.WorkItem{{
			ID: s.configPath,
			Fields: map[string]string{
				"projectName":      s.projectName,
				"projectType":      s.projectType,
				"fullConfigSyntax": s.configPath,
				"lastCheckpoint":   s.lastCheckpoint.Format(integrity.ServerTimeFormat),
			},
		}}
	case "viewproject":
		resp.WorkItems = s.listing()
	case "projectco":
		return s.checkout(cmd, resp)
	case "revisioninfo":
		id := selection(cmd)
		if msg, ok := s.authorErrors[id]; ok {
			return nil, failed(cmd, msg)
		}
		m, ok := s.members[id]
		if !ok {
			return nil, failed(cmd, id+" does not exist")
		}
		resp.WorkItems = []*integrity.WorkItem{{ID: id, Fields: map[string]string{"author": m.Author}}}
	case "createcp":
		s.nextCP++
		resp.ResultID = fmt.Sprintf("%d:1", 100+s.nextCP)
	case "lock":
		if !s.isMember(selection(cmd)) {
			return nil, failed(cmd, selection(cmd)+" is not a current or destined or pending member")
		}
	case "ci":
		s.checkedIn = append(s.checkedIn, selection(cmd))
	case "add":
		s.added = append(s.added, selection(cmd))
	case "submitcp":
		s.submitted = append(s.submitted, selection(cmd))
	default:
		return nil, failed(cmd, "unknown command")
	}
	return resp, nil
}

// listing builds the viewproject response. Caller holds s.mu.
func (s *FakeServer) listing() []*integrity.WorkItem {
	var items []*integrity.WorkItem
	for _, sp := range s.subprojects {
		items = append(items, &integrity.WorkItem{
			ID:      sp,
			Context: s.configPath,
			Fields:  map[string]string{"name": sp, "type": "subproject"},
		})
	}
	ids := make([]string, 0, len(s.members))
	for id := range s.members {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		m := s.members[id]
		items = append(items, &integrity.WorkItem{
			ID:      m.Name,
			Context: m.ConfigPath,
			Fields: map[string]string{
				"name":                  m.Name,
				"memberid":              m.MemberID,
				"memberrev":             m.Revision,
				"memberrevlastmodified": m.Timestamp.Format(integrity.ServerTimeFormat),
				"memberdescription":     m.Description,
				"type":                  "member",
			},
		})
	}
	return items
}

// checkout serves projectco. Caller holds s.mu.
func (s *FakeServer) checkout(cmd *integrity.Command, resp *integrity.Response) (*integrity.Response, error) {
	id := selection(cmd)
	if msg, ok := s.checkoutErrors[id]; ok {
		return nil, failed(cmd, msg)
	}
	m, ok := s.members[id]
	if !ok {
		return nil, failed(cmd, id+" does not exist")
	}
	if rev, _ := cmd.Option("revision"); rev != m.Revision {
		return nil, failed(cmd, fmt.Sprintf("revision %s of %s does not exist", rev, id))
	}
	s.checkouts[id]++
	if s.workspace != nil {
		target, _ := cmd.Option("targetFile")
		if target == "" {
			return nil, failed(cmd, "missing targetFile")
		}
		s.workspace.WriteFile(target, m.Content)
	}
	return resp, nil
}

// isMember reports whether a relative member path belongs to the project.
// Caller holds s.mu.
func (s *FakeServer) isMember(rel string) bool {
	if _, ok := s.members[rel]; ok {
		return true
	}
	root := path.Dir(s.projectName)
	for _, m := range s.members {
		if strings.TrimPrefix(m.Name, root+"/") == rel {
			return true
		}
	}
	return false
}

func selection(cmd *integrity.Command) string {
	if len(cmd.Selection) == 0 {
		return ""
	}
	return cmd.Selection[0]
}

func failed(cmd *integrity.Command, message string) error {
	return &integrity.CommandError{Command: cmd.String(), ExitCode: 128, Message: message}
}

var _ integrity.SessionFactory = (*FakeServer)(nil)
