package service

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/meadowbrook/clinisec/internal/accounts/domain"
	"github.com/meadowbrook/clinisec/internal/accounts/store"
	"github.com/meadowbrook/clinisec/internal/accounts/store/drivers/sqlite"
	"github.com/meadowbrook/clinisec/pkg/cryptox"
	"github.com/meadowbrook/clinisec/pkg/idx"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	pepperPath := filepath.Join(os.TempDir(), "clinisec-service-test-pepper")
	cryptox.SetPepperPath(pepperPath)

	os.Remove(pepperPath)
	code := m.Run()
	os.Remove(pepperPath)
	os.Exit(code)
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()

	st, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	require.NoError(t, st.ApplyMigrations())
	return st
}

// createAccount seeds a verified, active account the way a finalized
// registration would.
func createAccount(t *testing.T, st store.Store, username, email, password string) domain.Account {
	t.Helper()

	hash, err := cryptox.HashSecret(password)
	require.NoError(t, err)

	account := domain.Account{
		ID:            idx.New().String(),
		Username:      username,
		Email:         email,
		PasswordHash:  hash,
		Role:          "staff",
		Active:        true,
		EmailVerified: true,
	}
	require.NoError(t, st.Accounts().Create(context.Background(), account))
	return account
}

type sentMessage struct {
	To      string
	Subject string
	Body    string
}

// fakeNotifier records dispatches and can be told to fail or hang.
type fakeNotifier struct {
	mu sync.Mutex

	sent    []sentMessage
	failErr error
	block   time.Duration // sleep before answering, to exercise timeouts
}

func (n *fakeNotifier) Send(ctx context.Context, to, subject, body string) error {
	if n.block > 0 {
		select {
		case <-time.After(n.block):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if n.failErr != nil {
		return n.failErr
	}
	n.sent = append(n.sent, sentMessage{To: to, Subject: subject, Body: body})
	return nil
}

func (n *fakeNotifier) last(t *testing.T) sentMessage {
	t.Helper()

	n.mu.Lock()
	defer n.mu.Unlock()
	require.NotEmpty(t, n.sent, "expected at least one dispatched message")
	return n.sent[len(n.sent)-1]
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

// codeFromBody extracts the numeric one-time code the services embed in
// their message bodies.
func codeFromBody(t *testing.T, body string) string {
	t.Helper()

	for i := 0; i+cryptox.DefaultCodeDigits <= len(body); i++ {
		code := body[i : i+cryptox.DefaultCodeDigits]
		digits := true
		for _, r := range code {
			if r < '0' || r > '9' {
				digits = false
				break
			}
		}
		if digits {
			return code
		}
	}
	t.Fatalf("no %d-digit code found in body %q", cryptox.DefaultCodeDigits, body)
	return ""
}
