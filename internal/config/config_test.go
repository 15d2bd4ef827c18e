/*
 *  This Source Code Form is subject to the terms of the Mozilla Public
 *  License, v. 2.0. If a copy of the MPL was not distributed with this
 *  file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package config

import (
	"os"
	"path/filepath"
	"testing"
)

const (
	testKey = "0123456789abcdef0123456789abcdef"
	testIV  = "0123456789abcdef"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("TIDEMAIL_ENCRYPTION_KEY", testKey)
	t.Setenv("TIDEMAIL_ENCRYPTION_IV", testIV)
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.SMTPListen != ":2525" {
		t.Fatalf("SMTPListen = %q", cfg.SMTPListen)
	}
	if cfg.POPListen != ":1100" {
		t.Fatalf("POPListen = %q", cfg.POPListen)
	}
	if cfg.DatabasePath != "tidemail.db" {
		t.Fatalf("DatabasePath = %q", cfg.DatabasePath)
	}
	if len(cfg.ExternalDomains) != 1 || cfg.ExternalDomains[0] != "gmail.com" {
		t.Fatalf("ExternalDomains = %v", cfg.ExternalDomains)
	}
	if cfg.LogLevel != "info" {
		t.Fatalf("LogLevel = %q", cfg.LogLevel)
	}
}

func TestLoadRejectsBadKeyLength(t *testing.T) {
	t.Setenv("TIDEMAIL_ENCRYPTION_KEY", "short")
	t.Setenv("TIDEMAIL_ENCRYPTION_IV", testIV)
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for short key")
	}
}

func TestLoadRejectsBadIVLength(t *testing.T) {
	t.Setenv("TIDEMAIL_ENCRYPTION_KEY", testKey)
	t.Setenv("TIDEMAIL_ENCRYPTION_IV", "short")
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for short IV")
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tidemail.yaml")
	contents := "smtp_listen: \":5252\"\n" +
		"pop_listen: \":1101\"\n" +
		"database_path: mail.db\n" +
		"encryption_key: " + testKey + "\n" +
		"encryption_iv: \"" + testIV + "\"\n" +
		"external_domains:\n  - gmail.com\n  - outlook.com\n" +
		"log_level: debug\n"
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.SMTPListen != ":5252" || cfg.POPListen != ":1101" {
		t.Fatalf("listeners = %q / %q", cfg.SMTPListen, cfg.POPListen)
	}
	if cfg.DatabasePath != "mail.db" {
		t.Fatalf("DatabasePath = %q", cfg.DatabasePath)
	}
	if len(cfg.ExternalDomains) != 2 {
		t.Fatalf("ExternalDomains = %v", cfg.ExternalDomains)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("LogLevel = %q", cfg.LogLevel)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}
