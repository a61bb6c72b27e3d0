// Copyright (c) MamIRC Authors. All rights reserved. Use of this source
// code is governed by the MIT license that can be found in the LICENSE file.

package api

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
)

const sessionCookieName = "mamircd_session"

// tokenSet is a small mutex-guarded set of issued bearer tokens (session
// cookies, CSRF tokens), per spec.md §4.8's "single password ... cookie
// plus CSRF token gate all mutating endpoints".
type tokenSet struct {
	mu     sync.Mutex
	tokens map[string]struct{}
}

func newTokenSet() *tokenSet {
	return &tokenSet{tokens: make(map[string]struct{})}
}

func (t *tokenSet) issue() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	tok := hex.EncodeToString(raw)

	t.mu.Lock()
	t.tokens[tok] = struct{}{}
	t.mu.Unlock()

	return tok, nil
}

func (t *tokenSet) valid(tok string) bool {
	if tok == "" {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.tokens[tok]
	return ok
}

// constantTimeEqual compares a and b in time that does not depend on
// their contents when their lengths are equal; a length mismatch returns
// false without comparing contents, per spec.md §4.8's "password comparison is constant-time" (the
// same crypto/subtle justification as internal/connmgr's control port:
// no pack library implements comparison better than the standard
// library's purpose-built primitive).
func constantTimeEqual(a, b string) bool {
	if len(a) != len(b) {
		// Compare a with itself so this path still does a comparison of
		// len(a) bytes; it does not hide that the lengths differ.
		subtle.ConstantTimeCompare([]byte(a), []byte(a))
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (s *Server) handleLogin(c *gin.Context) {
	var req struct {
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.String(http.StatusBadRequest, "bad request")
		return
	}

	if !constantTimeEqual(req.Password, s.password) {
		c.String(http.StatusUnauthorized, "bad password")
		return
	}

	tok, err := s.sessions.issue()
	if err != nil {
		c.String(http.StatusInternalServerError, "could not issue session")
		return
	}

	c.SetCookie(sessionCookieName, tok, 0, "/", "", false, true)
	c.String(http.StatusOK, "OK")
}

// requireSession gates every endpoint but /login.json on a valid session
// cookie.
func (s *Server) requireSession(c *gin.Context) {
	tok, err := c.Cookie(sessionCookieName)
	if err != nil || !s.sessions.valid(tok) {
		c.String(http.StatusUnauthorized, "no session")
		c.Abort()
		return
	}
	c.Next()
}
