// Copyright (c) MamIRC Authors. All rights reserved. Use of this source
// code is governed by the MIT license that can be found in the LICENSE file.

package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/desyncr/mamircd/internal/feed"
	"github.com/desyncr/mamircd/internal/processor"
)

// maxLongPollWait bounds get-updates.json's maxWait, per spec.md §5's
// "long-poll respects the requested maxWait (bounded, e.g. <= 60s)".
const maxLongPollWait = 60 * time.Second

func (s *Server) handleGetState(c *gin.Context) {
	var req struct {
		MaxMessagesPerWindow int `json:"maxMessagesPerWindow"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.String(http.StatusBadRequest, "bad request")
		return
	}

	snapshot := s.orch.GetState(req.MaxMessagesPerWindow)

	csrfToken, err := s.csrf.issue()
	if err != nil {
		c.String(http.StatusInternalServerError, "could not issue csrf token")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"connections":   snapshot.Connections,
		"windows":       snapshot.Windows,
		"nextUpdateId":  snapshot.NextUpdateID,
		"flagConstants": snapshot.FlagConstants,
		"initialWindow": snapshot.InitialWindow,
		"profiles":      snapshot.Profiles,
		"csrfToken":     csrfToken,
	})
}

func (s *Server) handleGetUpdates(c *gin.Context) {
	var req struct {
		NextUpdateID int64 `json:"nextUpdateId"`
		MaxWaitMs    int64 `json:"maxWait"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.String(http.StatusBadRequest, "bad request")
		return
	}

	wait := time.Duration(req.MaxWaitMs) * time.Millisecond
	if wait > maxLongPollWait {
		wait = maxLongPollWait
	}
	if wait < 0 {
		wait = 0
	}

	updates, nextID, err := s.orch.GetUpdates(req.NextUpdateID, wait)
	if err != nil {
		if err == feed.ErrOutOfRange {
			c.JSON(http.StatusOK, nil) // resync signal, per spec.md §4.6
			return
		}
		c.String(http.StatusBadRequest, "bad request")
		return
	}

	c.JSON(http.StatusOK, gin.H{"updates": updates, "nextUpdateId": nextID})
}

func (s *Server) handleDoActions(c *gin.Context) {
	var req struct {
		Payload      []processor.Action `json:"payload"`
		CSRFToken    string              `json:"csrfToken"`
		NextUpdateID int64               `json:"nextUpdateId"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.String(http.StatusBadRequest, "bad request")
		return
	}

	if !s.csrf.valid(req.CSRFToken) {
		c.String(http.StatusForbidden, "bad csrf token")
		return
	}

	if err := s.orch.DoActions(req.Payload); err != nil {
		c.String(http.StatusOK, err.Error())
		return
	}

	c.String(http.StatusOK, "OK")
}

func (s *Server) handleGetProfiles(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"profiles": s.orch.GetProfiles()})
}

func (s *Server) handleGetTime(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"timeMs": time.Now().UnixMilli()})
}
