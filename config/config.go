// config.go - lanpam client configuration.
// Copyright (C) 2017  Yawning Angel.
// Copyright (C) 2026  lanpam contributors.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package config provides the lanpam client configuration.
//
// Configuration files are TOML.  JSON files written for the original
// pam-exec tool ({"source_name": ..., "devices": [...]}) are also accepted.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/lanpam/lanpam/core/crypto/hybrid"
	"github.com/lanpam/lanpam/core/log"
	"github.com/lanpam/lanpam/internal/proxy"
)

const (
	// DefaultDevicePort is the port devices listen on.  It is used for
	// device addresses without an explicit port.
	DefaultDevicePort = "4200"

	defaultLogLevel     = "NOTICE"
	defaultTimeoutSec     = 30
	defaultFailureDelayMs = 3000
)

var defaultLogging = Logging{
	Disable: false,
	File:    "",
	Level:   defaultLogLevel,
}

// Logging is the logging configuration.
type Logging struct {
	// Disable disables logging entirely.
	Disable bool `json:"disable"`

	// File specifies the log file, if omitted stderr will be used.
	File string `json:"file"`

	// Level specifies the log level.
	Level string `json:"level"`
}

func (lCfg *Logging) validate() error {
	if err := log.ValidateLevel(lCfg.Level); err != nil {
		return fmt.Errorf("config: Logging: Level '%v' is invalid", lCfg.Level)
	}
	lCfg.Level = strings.ToUpper(lCfg.Level)
	return nil
}

// Approval is the approval race configuration.
type Approval struct {
	// TimeoutSec is the global deadline for all devices, in seconds.
	TimeoutSec int `json:"timeout_sec"`

	// FailureDelayMs is the delay imposed before reporting an
	// undecryptable or malformed response, in milliseconds.
	FailureDelayMs int `json:"failure_delay_ms"`

	// RejectIsFinal denies the request as soon as any device rejects it,
	// instead of waiting for the other devices.
	RejectIsFinal bool `json:"reject_is_final"`
}

func (aCfg *Approval) applyDefaults() {
	if aCfg.TimeoutSec <= 0 {
		aCfg.TimeoutSec = defaultTimeoutSec
	}
	if aCfg.FailureDelayMs <= 0 {
		aCfg.FailureDelayMs = defaultFailureDelayMs
	}
}

// Metrics is the metrics configuration.
type Metrics struct {
	// Textfile is the path the metrics are written to at the end of every
	// invocation, in the Prometheus text format.  Empty disables metrics.
	Textfile string `json:"textfile"`
}

// Device is an approval device.
type Device struct {
	// Name is the display name of the device, used for diagnostics.
	Name string `json:"name"`

	// Address is the host:port of the device.
	Address string `json:"ip_address"`

	// PublicKey is the base64 encoded DER public key of the device.  It is
	// parsed when the device is contacted, so that a bad key only disables
	// that device.
	PublicKey string `json:"public_key"`

	// Cipher is the symmetric cipher the device speaks.  Defaults to
	// aes-256-ecb.
	Cipher string `json:"cipher"`
}

func (d *Device) validate() error {
	d.Address = strings.TrimSpace(d.Address)
	if d.Address == "" {
		return errors.New("Address is not set")
	}
	if _, _, err := net.SplitHostPort(d.Address); err != nil {
		d.Address = net.JoinHostPort(strings.Trim(d.Address, "[]"), DefaultDevicePort)
		if _, _, err := net.SplitHostPort(d.Address); err != nil {
			return fmt.Errorf("Address '%v' is invalid: %v", d.Address, err)
		}
	}
	if d.Name == "" {
		d.Name = d.Address
	}
	if strings.TrimSpace(d.PublicKey) == "" {
		return errors.New("PublicKey is not set")
	}
	c, err := hybrid.CipherByName(d.Cipher)
	if err != nil {
		return err
	}
	d.Cipher = c.Name()
	return nil
}

// Config is the top level lanpam configuration.
type Config struct {
	// SourceName is the display name of this machine shown on devices.
	SourceName string `json:"source_name"`

	Logging       *Logging      `json:"logging"`
	Approval      *Approval     `json:"approval"`
	UpstreamProxy *proxy.Config `json:"upstream_proxy"`
	Metrics       *Metrics      `json:"metrics"`
	Devices       []*Device     `json:"devices"`
}

// FixupAndValidate applies defaults to config entries and validates the
// supplied configuration.
func (cfg *Config) FixupAndValidate() error {
	if cfg.SourceName == "" {
		hostname, err := os.Hostname()
		if err != nil {
			return fmt.Errorf("config: SourceName is not set and hostname is unavailable: %v", err)
		}
		cfg.SourceName = hostname
	}

	if cfg.Logging == nil {
		cfg.Logging = new(Logging)
		*cfg.Logging = defaultLogging
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = defaultLogLevel
	}
	if err := cfg.Logging.validate(); err != nil {
		return err
	}

	if cfg.Approval == nil {
		cfg.Approval = new(Approval)
	}
	cfg.Approval.applyDefaults()

	if cfg.UpstreamProxy == nil {
		cfg.UpstreamProxy = new(proxy.Config)
	}
	if err := cfg.UpstreamProxy.FixupAndValidate(); err != nil {
		return fmt.Errorf("config: UpstreamProxy is invalid: %v", err)
	}

	if cfg.Metrics == nil {
		cfg.Metrics = new(Metrics)
	}

	if len(cfg.Devices) == 0 {
		return errors.New("config: no Devices configured")
	}
	seen := make(map[string]string)
	for i, d := range cfg.Devices {
		if d == nil {
			return fmt.Errorf("config: Device %d is empty", i)
		}
		if err := d.validate(); err != nil {
			return fmt.Errorf("config: Device %d (%v) is invalid: %v", i, d.Name, err)
		}
		if other, ok := seen[d.Address]; ok {
			return fmt.Errorf("config: Devices '%v' and '%v' share the address %v", other, d.Name, d.Address)
		}
		seen[d.Address] = d.Name
	}
	return nil
}

// Load parses and validates the provided buffer b as a config file body and
// returns the Config.
func Load(b []byte) (*Config, error) {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return nil, errors.New("config: empty configuration")
	}

	cfg := new(Config)
	if b[0] == '{' {
		dec := json.NewDecoder(bytes.NewReader(b))
		dec.DisallowUnknownFields()
		if err := dec.Decode(cfg); err != nil {
			return nil, fmt.Errorf("config: failed to parse JSON: %v", err)
		}
	} else {
		md, err := toml.Decode(string(b), cfg)
		if err != nil {
			return nil, fmt.Errorf("config: failed to parse TOML: %v", err)
		}
		if undecoded := md.Undecoded(); len(undecoded) != 0 {
			return nil, fmt.Errorf("config: undecoded keys in config file: %v", undecoded)
		}
	}

	if err := cfg.FixupAndValidate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile loads, parses, and validates the provided file and returns the
// Config.
func LoadFile(f string) (*Config, error) {
	b, err := os.ReadFile(f)
	if err != nil {
		return nil, err
	}
	return Load(b)
}
