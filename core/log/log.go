// log.go - Logging backend.
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

// Package log provides a logging backend, based around the go-logging package.
package log

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"gopkg.in/op/go-logging.v1"
)

const logFormat = "%{time:15:04:05.000} %{level:.4s} %{module}: %{message}"

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error {
	return nil
}

// Backend is a log backend.
type Backend struct {
	sync.RWMutex

	backend logging.LeveledBackend
	w       io.WriteCloser
}

// Log is used to log a message as per the logging.Backend interface.
func (b *Backend) Log(level logging.Level, calldepth int, record *logging.Record) error {
	b.RLock()
	defer b.RUnlock()
	return b.backend.Log(level, calldepth, record)
}

// GetLevel returns the logging level for the specified module as per the
// logging.Leveled interface.
func (b *Backend) GetLevel(module string) logging.Level {
	b.RLock()
	defer b.RUnlock()
	return b.backend.GetLevel(module)
}

// SetLevel sets the logging level for the specified module.
func (b *Backend) SetLevel(level logging.Level, module string) {
	b.RLock()
	defer b.RUnlock()
	b.backend.SetLevel(level, module)
}

// IsEnabledFor returns true if the logger is enabled for the given level.
func (b *Backend) IsEnabledFor(level logging.Level, module string) bool {
	b.RLock()
	defer b.RUnlock()
	return b.backend.IsEnabledFor(level, module)
}

// GetLogger returns a per-module logger that writes to the backend.
func (b *Backend) GetLogger(module string) *logging.Logger {
	l := logging.MustGetLogger(module)
	l.SetBackend(b)
	return l
}

// Close closes the log file, if any.
func (b *Backend) Close() error {
	b.Lock()
	defer b.Unlock()
	return b.w.Close()
}

// New initializes a logging backend.  Logs go to the file f, or to stderr
// when f is empty, so that stdout stays free for the invoking PAM stack.
func New(f string, level string, disable bool) (*Backend, error) {
	var w io.WriteCloser
	switch {
	case disable:
		w = nopCloser{io.Discard}
	case f == "":
		w = nopCloser{os.Stderr}
	default:
		const fileMode = 0600

		var err error
		flags := os.O_CREATE | os.O_APPEND | os.O_WRONLY
		w, err = os.OpenFile(f, flags, fileMode)
		if err != nil {
			return nil, fmt.Errorf("log: failed to create log file: %v", err)
		}
	}
	return newBackend(w, level)
}

// NewWithWriter initializes a logging backend writing to w.
func NewWithWriter(w io.Writer, level string) (*Backend, error) {
	return newBackend(nopCloser{w}, level)
}

func newBackend(w io.WriteCloser, level string) (*Backend, error) {
	lvl, err := logLevelFromString(level)
	if err != nil {
		w.Close()
		return nil, err
	}

	b := &Backend{w: w}
	base := logging.NewLogBackend(w, "", 0)
	formatted := logging.NewBackendFormatter(base, logging.MustStringFormatter(logFormat))
	b.backend = logging.AddModuleLevel(formatted)
	b.backend.SetLevel(lvl, "")
	return b, nil
}

// ValidateLevel returns an error if l is not a supported level.
func ValidateLevel(l string) error {
	_, err := logLevelFromString(l)
	return err
}

func logLevelFromString(l string) (logging.Level, error) {
	switch strings.ToUpper(l) {
	case "ERROR":
		return logging.ERROR, nil
	case "WARNING":
		return logging.WARNING, nil
	case "NOTICE":
		return logging.NOTICE, nil
	case "INFO":
		return logging.INFO, nil
	case "DEBUG":
		return logging.DEBUG, nil
	default:
		return logging.CRITICAL, fmt.Errorf("log: invalid level: '%v'", l)
	}
}
