package testutil

import (
	"crypto/x509"
	"errors"
	"io"
	"net"
	"sync"
	"testing"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
)

// ReceivedMail is one message accepted by the test SMTP server.
type ReceivedMail struct {
	Username string
	From     string
	To       []string
	Data     []byte
}

// MemoryBackend stores accepted messages in memory. It accepts any username
// with the configured password.
type MemoryBackend struct {
	mu       sync.Mutex
	password string
	messages []ReceivedMail
}

func (b *MemoryBackend) NewSession(*smtp.Conn) (smtp.Session, error) {
	return &memorySession{backend: b}, nil
}

// Messages returns a copy of everything received so far.
func (b *MemoryBackend) Messages() []ReceivedMail {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]ReceivedMail(nil), b.messages...)
}

type memorySession struct {
	backend  *MemoryBackend
	username string
	from     string
	to       []string
}

func (s *memorySession) AuthMechanisms() []string {
	return []string{sasl.Plain}
}

func (s *memorySession) Auth(mech string) (sasl.Server, error) {
	return sasl.NewPlainServer(func(identity, username, password string) error {
		if password != s.backend.password {
			return errors.New("invalid credentials")
		}
		s.username = username
		return nil
	}), nil
}

func (s *memorySession) Mail(from string, _ *smtp.MailOptions) error {
	if s.username == "" {
		return smtp.ErrAuthRequired
	}
	s.from = from
	return nil
}

func (s *memorySession) Rcpt(to string, _ *smtp.RcptOptions) error {
	s.to = append(s.to, to)
	return nil
}

func (s *memorySession) Data(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	s.backend.mu.Lock()
	defer s.backend.mu.Unlock()
	s.backend.messages = append(s.backend.messages, ReceivedMail{
		Username: s.username,
		From:     s.from,
		To:       s.to,
		Data:     data,
	})
	return nil
}

func (s *memorySession) Reset() {
	s.from = ""
	s.to = nil
}

func (s *memorySession) Logout() error {
	return nil
}

// TestSMTPServer is an SMTP server on a random local port. It speaks
// plaintext unless started with STARTTLS.
type TestSMTPServer struct {
	Address  string
	Password string
	Backend  *MemoryBackend
	// RootCAs trusts the server certificate when STARTTLS is enabled.
	RootCAs *x509.CertPool
	server  *smtp.Server
}

// NewTestSMTPServer starts a server that accepts password for any user. It
// is closed when the test ends.
func NewTestSMTPServer(t *testing.T, password string) *TestSMTPServer {
	t.Helper()
	return startSMTPServer(t, password, false)
}

// NewTestSMTPServerStartTLS is NewTestSMTPServer advertising STARTTLS with a
// self-signed certificate. Authentication is only accepted over TLS.
func NewTestSMTPServerStartTLS(t *testing.T, password string) *TestSMTPServer {
	t.Helper()
	return startSMTPServer(t, password, true)
}

func startSMTPServer(t *testing.T, password string, startTLS bool) *TestSMTPServer {
	t.Helper()

	be := &MemoryBackend{password: password}
	s := smtp.NewServer(be)
	s.AllowInsecureAuth = !startTLS
	s.Domain = "localhost"

	var roots *x509.CertPool
	if startTLS {
		s.TLSConfig, roots = NewTestTLS(t)
	}

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}

	go func() {
		if err := s.Serve(listener); err != nil && !errors.Is(err, smtp.ErrServerClosed) {
			t.Logf("SMTP server error: %v", err)
		}
	}()

	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Logf("Failed to close SMTP server: %v", err)
		}
	})

	return &TestSMTPServer{
		Address:  listener.Addr().String(),
		Password: password,
		Backend:  be,
		RootCAs:  roots,
		server:   s,
	}
}

func (s *TestSMTPServer) Messages() []ReceivedMail {
	return s.Backend.Messages()
}
