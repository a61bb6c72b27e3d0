// Copyright (c) MamIRC Authors. All rights reserved. Use of this source
// code is governed by the MIT license that can be found in the LICENSE file.

// Command processor runs the Processor process: it attaches to a
// Connector's Control Port, drives the Session State Machine, Window
// Projector, Update Feed, and Reconnect Controller, and serves the HTTP
// API. See spec.md §§4.3-4.9, 6.
package main

import (
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/desyncr/mamircd/internal/api"
	"github.com/desyncr/mamircd/internal/processor"
	"github.com/desyncr/mamircd/internal/profile"
)

// Config is the Processor's single JSON configuration file.
type Config struct {
	ProfilesPath    string `json:"profiles_path"`
	ControlAddr     string `json:"control_addr"`
	ControlPassword string `json:"control_password"`
	HTTPAddr        string `json:"http_addr"`
	HTTPPassword    string `json:"http_password"`
}

func main() {
	os.Exit(run())
}

func run() int {
	log := logrus.NewEntry(logrus.StandardLogger())

	if len(os.Args) != 2 {
		log.Error("usage: processor <config.json>")
		return 1
	}

	cfg, err := loadConfig(os.Args[1])
	if err != nil {
		log.WithError(err).Error("processor: bad configuration")
		return 1
	}

	store, err := profile.OpenStore(cfg.ProfilesPath, log)
	if err != nil {
		log.WithError(err).Error("processor: could not open profile store")
		return 1
	}
	defer store.Close()

	orch := processor.New(store, log)

	httpServer := &http.Server{Addr: cfg.HTTPAddr, Handler: api.NewServer(orch, cfg.HTTPPassword, log).Handler()}
	go func() {
		log.WithField("addr", cfg.HTTPAddr).Info("processor: http api listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("processor: http api stopped")
		}
	}()

	stop := make(chan struct{})
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		close(stop)
		httpServer.Close()
	}()

	if err := orch.Run(cfg.ControlAddr, cfg.ControlPassword, stop); err != nil {
		log.WithError(err).Error("processor: orchestrator stopped")
		return 2
	}

	return 0
}

func loadConfig(path string) (Config, error) {
	var cfg Config
	f, err := os.Open(path)
	if err != nil {
		return cfg, err
	}
	defer f.Close()

	if err := json.NewDecoder(f).Decode(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
