// SPDX-License-Identifier: MIT
//
// Copyright © 2018 Kent Gibson <warthog618@gmail.com>.

// Package info provides utility functions for manipulating info lines returned
// by the modem in response to AT commands.
package info

import "strings"

// HasPrefix returns true if the line begins with the info prefix for the command.
func HasPrefix(line, cmd string) bool {
	return strings.HasPrefix(line, cmd+":")
}

// TrimPrefix removes the command  prefix, if any, and any intervening space
// from the info line.
func TrimPrefix(line, cmd string) string {
	return strings.TrimLeft(strings.TrimPrefix(line, cmd+":"), " ")
}

// Fields splits the comma separated parameters of an info line.
//
// Quoted parameters may contain commas and are returned without the quotes.
func Fields(params string) []string {
	var fields []string
	var f strings.Builder
	quoted := false
	for _, r := range params {
		switch {
		case r == '"':
			quoted = !quoted
		case r == ',' && !quoted:
			fields = append(fields, f.String())
			f.Reset()
		default:
			f.WriteRune(r)
		}
	}
	return append(fields, f.String())
}

// Params returns the fields of the info line for the command.
//
// Returns nil if the line is not an info line for the command.
func Params(line, cmd string) []string {
	if !HasPrefix(line, cmd) {
		return nil
	}
	return Fields(TrimPrefix(line, cmd))
}
