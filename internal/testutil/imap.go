package testutil

import (
	"net"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/backend/memory"
	imapclient "github.com/emersion/go-imap/client"
	"github.com/emersion/go-imap/server"
)

// TestIMAPServer is an in-memory IMAP server. The memory backend has a
// single user, "username" with password "password".
type TestIMAPServer struct {
	Address  string
	Username string
	Password string
	Backend  *memory.Backend
}

// NewTestIMAPServer starts a server on a random port and stops it when the
// test ends. Messages the backend ships with are flagged seen, so the
// mailbox starts with nothing new.
func NewTestIMAPServer(t *testing.T) *TestIMAPServer {
	t.Helper()

	be := memory.New()
	s := server.New(be)
	s.AllowInsecureAuth = true

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}

	go func() {
		_ = s.Serve(listener)
	}()
	t.Cleanup(func() { _ = s.Close() })

	srv := &TestIMAPServer{
		Address:  listener.Addr().String(),
		Username: "username",
		Password: "password",
		Backend:  be,
	}
	srv.markAllSeen(t)
	return srv
}

// Connect opens a logged-in client with INBOX selected.
func (s *TestIMAPServer) Connect(t *testing.T) *imapclient.Client {
	t.Helper()

	c, err := imapclient.Dial(s.Address)
	if err != nil {
		t.Fatalf("Failed to connect to test server: %v", err)
	}
	t.Cleanup(func() { _ = c.Logout() })

	if err := c.Login(s.Username, s.Password); err != nil {
		t.Fatalf("Failed to login: %v", err)
	}
	if _, err := c.Select("INBOX", false); err != nil {
		t.Fatalf("Failed to select INBOX: %v", err)
	}
	return c
}

// Deliver appends raw to INBOX without flags.
func (s *TestIMAPServer) Deliver(t *testing.T, raw string) {
	t.Helper()

	c := s.Connect(t)
	raw = strings.ReplaceAll(strings.ReplaceAll(raw, "\r\n", "\n"), "\n", "\r\n")
	if err := c.Append("INBOX", nil, time.Now(), strings.NewReader(raw)); err != nil {
		t.Fatalf("Failed to append message: %v", err)
	}
}

// Unseen returns the number of INBOX messages without \Seen.
func (s *TestIMAPServer) Unseen(t *testing.T) int {
	t.Helper()

	c := s.Connect(t)
	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	uids, err := c.UidSearch(criteria)
	if err != nil {
		t.Fatalf("Failed to search: %v", err)
	}
	return len(uids)
}

func (s *TestIMAPServer) markAllSeen(t *testing.T) {
	t.Helper()

	c := s.Connect(t)
	status, err := c.Select("INBOX", false)
	if err != nil {
		t.Fatalf("Failed to select INBOX: %v", err)
	}
	if status.Messages == 0 {
		return
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddRange(1, status.Messages)
	item := imap.FormatFlagsOp(imap.AddFlags, true)
	if err := c.Store(seqSet, item, []interface{}{imap.SeenFlag}, nil); err != nil {
		t.Fatalf("Failed to flag messages: %v", err)
	}
}
