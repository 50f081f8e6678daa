package server

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"

	"github.com/alfredjeanlab/coherence/internal/model"
	"github.com/alfredjeanlab/coherence/internal/replay"
	"github.com/alfredjeanlab/coherence/internal/sigauth"
)

// authMode is how a request proved its identity.
type authMode int

const (
	modeAnonymous authMode = iota
	modeSession
	modeSigned
)

func (m authMode) String() string {
	switch m {
	case modeSession:
		return "session"
	case modeSigned:
		return "signed"
	default:
		return "anonymous"
	}
}

// identity is the resolved caller of a request. agent is nil for anonymous
// requests.
type identity struct {
	agent *model.Agent
	mode  authMode
}

// resolveIdentity picks exactly one authentication mode. A bearer token
// wins over signature headers; a request with neither is anonymous.
func (g *Gateway) resolveIdentity(ctx context.Context, r *http.Request, body []byte) (*identity, error) {
	if token, ok := bearerToken(r); ok {
		agent, err := g.sessionAgent(ctx, token)
		if err != nil {
			return nil, err
		}
		return &identity{agent: agent, mode: modeSession}, checkActive(agent)
	}

	if sigauth.Signed(r) {
		agent, err := g.signedAgent(ctx, r, body)
		if err != nil {
			return nil, err
		}
		return &identity{agent: agent, mode: modeSigned}, checkActive(agent)
	}

	return &identity{mode: modeAnonymous}, nil
}

func checkActive(a *model.Agent) error {
	if !a.Active {
		return authorizationError("agent is deactivated")
	}
	return nil
}

func bearerToken(r *http.Request) (string, bool) {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func (g *Gateway) sessionAgent(ctx context.Context, token string) (*model.Agent, error) {
	sess, err := g.store.GetSession(ctx, hashToken(token))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, authenticationError("invalid session")
	}
	if err != nil {
		return nil, storageError("look up session", err)
	}
	if sess.Expired(g.now()) {
		return nil, authenticationError("invalid session")
	}
	agent, err := g.store.GetAgent(ctx, sess.AgentID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, authenticationError("invalid session")
	}
	if err != nil {
		return nil, storageError("look up agent", err)
	}
	return agent, nil
}

// signedAgent checks the timestamp window, then the signature, then that
// the signature has not been seen before, and finally looks up the key.
func (g *Gateway) signedAgent(ctx context.Context, r *http.Request, body []byte) (*model.Agent, error) {
	pubkey := r.Header.Get(sigauth.HeaderPubkey)
	sig := r.Header.Get(sigauth.HeaderSignature)
	ts := r.Header.Get(sigauth.HeaderTimestamp)

	if err := sigauth.CheckTimestamp(ts, g.now()); err != nil {
		if errors.Is(err, sigauth.ErrTimestampExpired) {
			return nil, authenticationError("request timestamp expired")
		}
		return nil, authenticationError("invalid timestamp")
	}
	if !sigauth.Verify(pubkey, sig, sigauth.Message(ts, body)) {
		return nil, authenticationError("invalid signature")
	}

	fresh, err := g.replay.Remember(ctx, replay.Key(sig), 2*sigauth.TimestampWindow)
	if err != nil {
		return nil, storageError("check replay store", err)
	}
	if !fresh {
		return nil, authenticationError("signature already used")
	}

	agent, err := g.store.GetAgentByPubkey(ctx, strings.ToLower(pubkey))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFoundError("agent not registered with this pubkey")
	}
	if err != nil {
		return nil, storageError("look up agent", err)
	}
	return agent, nil
}

// hashToken returns the stored form of a session token.
func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// newSessionToken returns a random bearer token. Only its hash is stored.
func newSessionToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
