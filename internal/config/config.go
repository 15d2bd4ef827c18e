/*
 *  This Source Code Form is subject to the terms of the Mozilla Public
 *  License, v. 2.0. If a copy of the MPL was not distributed with this
 *  file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

// Package config loads server configuration from an optional config
// file and TIDEMAIL_* environment variables, with sane defaults for a
// single-node deployment.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/tidemail/tidemail/internal/crypto"
)

type Config struct {
	SMTPListen      string   `mapstructure:"smtp_listen"`
	POPListen       string   `mapstructure:"pop_listen"`
	DatabasePath    string   `mapstructure:"database_path"`
	EncryptionKey   string   `mapstructure:"encryption_key"`
	EncryptionIV    string   `mapstructure:"encryption_iv"`
	ExternalDomains []string `mapstructure:"external_domains"`
	LogLevel        string   `mapstructure:"log_level"`
}

// Load reads configuration from path (optional, "" skips the file) and
// the environment, then validates the encryption material.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetDefault("smtp_listen", ":2525")
	v.SetDefault("pop_listen", ":1100")
	v.SetDefault("database_path", "tidemail.db")
	v.SetDefault("external_domains", []string{"gmail.com"})
	v.SetDefault("log_level", "info")
	// Registered empty so AutomaticEnv can populate them; validate
	// catches the empty case.
	v.SetDefault("encryption_key", "")
	v.SetDefault("encryption_iv", "")

	v.SetEnvPrefix("TIDEMAIL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("viper.ReadInConfig: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("viper.Unmarshal: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if len(c.EncryptionKey) != crypto.KeySize {
		return fmt.Errorf("encryption_key must be %d bytes, got %d", crypto.KeySize, len(c.EncryptionKey))
	}
	if len(c.EncryptionIV) != crypto.IVSize {
		return fmt.Errorf("encryption_iv must be %d bytes, got %d", crypto.IVSize, len(c.EncryptionIV))
	}
	return nil
}
