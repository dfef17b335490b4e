// SPDX-License-Identifier: MIT
//
// Copyright © 2020 Kent Gibson <warthog618@gmail.com>.

package at

import (
	"regexp"
	"time"

	"go.uber.org/zap"
)

// MatchPolicy determines how lines that match no expectation are handled.
type MatchPolicy int

const (
	// DiscardUnmatched drops unexpected lines and continues waiting.
	DiscardUnmatched MatchPolicy = iota

	// FailFast returns an UnexpectedLineError for the first unexpected line.
	FailFast
)

// UnexpectedLineError indicates a line was received that matched no
// expectation while the FailFast policy was in effect.
type UnexpectedLineError struct {
	Line string
}

func (e *UnexpectedLineError) Error() string {
	return "unexpected line: " + e.Line
}

// WaitFor reads lines until one equals one of the literals, and returns that
// line.
//
// Returns ErrTimeout if no such line arrives before the timeout.
func (a *AT) WaitFor(timeout time.Duration, literals ...string) (string, error) {
	defer a.restoreTimeout()
	deadline := a.deadline(timeout)
	for {
		line, err := a.readLine(deadline)
		if err != nil {
			return "", err
		}
		if line == "" {
			return "", ErrTimeout
		}
		for _, l := range literals {
			if line == l {
				return line, nil
			}
		}
		if err = a.unmatched(line); err != nil {
			return "", err
		}
	}
}

// WaitForPattern reads lines until one matches the pattern, and returns the
// captured groups.
//
// Returns ErrTimeout if no such line arrives before the timeout.
func (a *AT) WaitForPattern(timeout time.Duration, re *regexp.Regexp) ([]string, error) {
	defer a.restoreTimeout()
	deadline := a.deadline(timeout)
	for {
		line, err := a.readLine(deadline)
		if err != nil {
			return nil, err
		}
		if line == "" {
			return nil, ErrTimeout
		}
		if m := re.FindStringSubmatch(line); m != nil {
			return m[1:], nil
		}
		if err = a.unmatched(line); err != nil {
			return nil, err
		}
	}
}

// unmatched applies the match policy to a line that matched no expectation.
//
// Echoes of the last command are always discarded.
func (a *AT) unmatched(line string) error {
	if a.policy == FailFast && parseRxLine(line, a.cmdID) != rxlEchoCmdLine {
		return &UnexpectedLineError{Line: line}
	}
	a.log.Debug("discarded", zap.String("line", line))
	return nil
}
