// SPDX-FileCopyrightText: Copyright (C) 2026  lanpam contributors
// SPDX-License-Identifier: AGPL-3.0-only

// Package common provides shared utilities for the lanpam CLI.
package common

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"charm.land/lipgloss/v2"
	"github.com/carlmjohnson/versioninfo"
	"github.com/charmbracelet/colorprofile"
	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"
)

// ExitError makes the process exit with Code without printing anything.
// It carries a decision, e.g. a denied request, not a malfunction.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

// ExecuteWithFang executes a cobra command using fang with the standard
// lanpam options and exits with the resulting status.
func ExecuteWithFang(cmd *cobra.Command) {
	os.Exit(Execute(context.Background(), cmd))
}

// Execute runs cmd and returns the process exit status.
func Execute(ctx context.Context, cmd *cobra.Command) int {
	err := fang.Execute(
		ctx,
		cmd,
		fang.WithVersion(versioninfo.Short()),
		fang.WithErrorHandler(ErrorHandlerWithUsage(cmd)),
	)
	return ExitCode(err)
}

// ExitCode maps an error returned by a command to an exit status.
func ExitCode(err error) int {
	var exitErr *ExitError
	switch {
	case err == nil:
		return 0
	case errors.As(err, &exitErr):
		return exitErr.Code
	default:
		return 1
	}
}

// ErrorHandlerWithUsage creates an error handler that displays error
// messages followed by usage help for CLI argument errors.  ExitErrors are
// not displayed.
func ErrorHandlerWithUsage(cmd *cobra.Command) fang.ErrorHandler {
	return func(w io.Writer, styles fang.Styles, err error) {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			return
		}

		_, _ = fmt.Fprintln(w, styles.ErrorHeader.String())
		_, _ = fmt.Fprintln(w, styles.ErrorText.Render(err.Error()+"."))
		_, _ = fmt.Fprintln(w)

		if isUsageError(err) {
			helpFunc := cmd.HelpFunc()
			if helpFunc != nil {
				_ = colorprofile.NewWriter(w, nil)
				helpFunc(cmd, []string{})
			}
		} else {
			_, _ = fmt.Fprintln(w, lipgloss.JoinHorizontal(
				lipgloss.Left,
				styles.ErrorText.UnsetWidth().Render("Try"),
				styles.Program.Flag.Render("--help"),
				styles.ErrorText.UnsetWidth().UnsetMargins().UnsetTransform().PaddingLeft(1).Render("for usage."),
			))
			_, _ = fmt.Fprintln(w)
		}
	}
}

func isUsageError(err error) bool {
	s := err.Error()
	for _, prefix := range []string{
		"flag needs an argument:",
		"unknown flag:",
		"unknown shorthand flag:",
		"unknown command",
		"invalid argument",
		"required flag",
		"accepts",
		"arg(s), received",
		"if any flags in the group",
		"failed to load config file",
		"config file must be specified",
	} {
		if strings.Contains(s, prefix) {
			return true
		}
	}
	return false
}
