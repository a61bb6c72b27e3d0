// Copyright (c) MamIRC Authors. All rights reserved. Use of this source
// code is governed by the MIT license that can be found in the LICENSE file.

// Command connector runs the Connector process: it maintains outbound IRC
// connections, journals every event durably, and exposes the Control Port
// for a single Processor to attach to. See spec.md §§4.1, 4.2, 6.
package main

import (
	"encoding/json"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/desyncr/mamircd/internal/connmgr"
	"github.com/desyncr/mamircd/internal/journal"
)

// Config is the Connector's single JSON configuration file. Parsing and
// CLI flag handling are out of scope per spec.md §1; this is the minimal
// shape needed to start the process.
type Config struct {
	JournalPath     string `json:"journal_path"`
	ControlAddr     string `json:"control_addr"`
	ControlPassword string `json:"control_password"`
}

func main() {
	os.Exit(run())
}

func run() int {
	log := logrus.NewEntry(logrus.StandardLogger())

	if len(os.Args) != 2 {
		log.Error("usage: connector <config.json>")
		return 1
	}

	cfg, err := loadConfig(os.Args[1])
	if err != nil {
		log.WithError(err).Error("connector: bad configuration")
		return 1
	}

	j, err := journal.Open(cfg.JournalPath, log)
	if err != nil {
		log.WithError(err).Error("connector: could not open journal")
		return 1
	}
	defer j.Close()

	mgr := connmgr.NewManager(j, log)
	cp := connmgr.NewControlPort(mgr, j, cfg.ControlPassword, log)

	log.WithField("addr", cfg.ControlAddr).Info("connector: listening")
	if err := cp.Serve(cfg.ControlAddr); err != nil {
		log.WithError(err).Error("connector: control port stopped")
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
