// Copyright (c) MamIRC Authors. All rights reserved. Use of this source
// code is governed by the MIT license that can be found in the LICENSE file.

// Package api implements the HTTP API (spec.md §4.8): a small set of
// POST, JSON-in-JSON-out endpoints fronting the Processor Orchestrator,
// gated by a single password plus a session cookie and CSRF token.
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/desyncr/mamircd/internal/processor"
)

// Server is the HTTP API's gin router plus its session/CSRF state.
type Server struct {
	log      *logrus.Entry
	orch     *processor.Orchestrator
	password string

	sessions *tokenSet
	csrf     *tokenSet

	engine *gin.Engine
}

// NewServer builds a Server fronting orch, authenticated by password.
func NewServer(orch *processor.Orchestrator, password string, log *logrus.Entry) *Server {
	s := &Server{
		log:      log,
		orch:     orch,
		password: password,
		sessions: newTokenSet(),
		csrf:     newTokenSet(),
	}
	s.engine = s.buildEngine()
	return s
}

func (s *Server) buildEngine() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), s.logMiddleware)

	r.POST("/login.json", s.handleLogin)

	authed := r.Group("/")
	authed.Use(s.requireSession)
	authed.POST("/get-state.json", s.handleGetState)
	authed.POST("/get-updates.json", s.handleGetUpdates)
	authed.POST("/do-actions.json", s.handleDoActions)
	authed.POST("/get-profiles.json", s.handleGetProfiles)
	authed.POST("/get-time.json", s.handleGetTime)

	return r
}

func (s *Server) logMiddleware(c *gin.Context) {
	c.Next()
	s.log.WithFields(logrus.Fields{
		"path":   c.Request.URL.Path,
		"status": c.Writer.Status(),
	}).Debug("api: request handled")
}

// Handler returns the http.Handler to mount, e.g. behind http.ListenAndServe.
func (s *Server) Handler() http.Handler {
	return s.engine
}
