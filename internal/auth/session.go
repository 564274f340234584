package auth

import (
	"crypto/sha256"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/sessions"

	"github.com/rhesis-ai/rhesis/internal/tenant"
)

// SessionName is the name of the session cookie.
const SessionName = "rhesis-session"

// Session value keys.
const (
	sessionKeyOrganization = "org"
	sessionKeyUser         = "user"
	sessionKeyCreated      = "created"
)

// SessionManager keeps the caller identity in a signed and encrypted cookie.
type SessionManager struct {
	store  *sessions.CookieStore
	maxAge time.Duration
}

// NewSessionManager creates a cookie store from secret. The secret is
// hashed into separate signing and encryption keys, so any passphrase of
// sufficient length works and stays stable across restarts.
func NewSessionManager(secret string, secure bool, maxAge time.Duration) *SessionManager {
	hashKey := sha256.Sum256([]byte("sign:" + secret))
	blockKey := sha256.Sum256([]byte("encrypt:" + secret))

	store := sessions.NewCookieStore(hashKey[:], blockKey[:])
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   int(maxAge.Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
	store.MaxAge(int(maxAge.Seconds()))

	return &SessionManager{store: store, maxAge: maxAge}
}

// Load returns the identity in the request's session cookie. ok is false
// when there is no cookie, it does not verify, or it has expired.
func (m *SessionManager) Load(r *http.Request) (tenant.Identity, bool) {
	sess, err := m.store.New(r, SessionName)
	if err != nil || sess.IsNew {
		return tenant.Identity{}, false
	}

	org, _ := sess.Values[sessionKeyOrganization].(string)
	user, _ := sess.Values[sessionKeyUser].(string)
	created, _ := sess.Values[sessionKeyCreated].(int64)

	if time.Since(time.Unix(created, 0)) > m.maxAge {
		return tenant.Identity{}, false
	}

	id := tenant.Identity{OrganizationID: org, UserID: user}
	if !id.Complete() {
		return tenant.Identity{}, false
	}

	return id, true
}

// Save writes a fresh session for id.
func (m *SessionManager) Save(w http.ResponseWriter, r *http.Request, id tenant.Identity) error {
	sess, err := m.store.New(r, SessionName)
	if err != nil && sess == nil {
		return fmt.Errorf("creating session: %w", err)
	}

	sess.Values[sessionKeyOrganization] = id.OrganizationID
	sess.Values[sessionKeyUser] = id.UserID
	sess.Values[sessionKeyCreated] = time.Now().Unix()

	if err := sess.Save(r, w); err != nil {
		return fmt.Errorf("saving session: %w", err)
	}

	return nil
}

// Destroy expires the session cookie.
func (m *SessionManager) Destroy(w http.ResponseWriter, r *http.Request) error {
	sess, _ := m.store.New(r, SessionName)

	sess.Options.MaxAge = -1

	return sess.Save(r, w)
}
