// SPDX-FileCopyrightText: Copyright (C) 2026  lanpam contributors
// SPDX-License-Identifier: AGPL-3.0-only

// Package utils provides file helpers for the key tooling.
package utils

import (
	"errors"
	"fmt"
	"os"
)

// ErrFileExists is returned when refusing to overwrite a file.
var ErrFileExists = errors.New("file already exists")

// Exists returns true if f exists.
func Exists(f string) (bool, error) {
	_, err := os.Stat(f)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, os.ErrNotExist):
		return false, nil
	default:
		return false, err
	}
}

// NoneExist returns an error wrapping ErrFileExists if any of files exist.
func NoneExist(files ...string) error {
	for _, f := range files {
		ok, err := Exists(f)
		if err != nil {
			return err
		}
		if ok {
			return fmt.Errorf("%w: %s", ErrFileExists, f)
		}
	}
	return nil
}

// WriteFileExclusive writes b to a new file f with the given mode, failing
// if f already exists.
func WriteFileExclusive(f string, b []byte, mode os.FileMode) error {
	fd, err := os.OpenFile(f, os.O_WRONLY|os.O_CREATE|os.O_EXCL, mode)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("%w: %s", ErrFileExists, f)
		}
		return err
	}
	if _, err := fd.Write(b); err != nil {
		fd.Close()
		return err
	}
	return fd.Close()
}
