// SPDX-License-Identifier: MIT
//
// Copyright © 2020 Kent Gibson <warthog618@gmail.com>.

package sim800

import (
	"context"

	"github.com/looplab/fsm"
)

// State is the connection state of the modem.
//
// The states are ordered, with each state implying those before it.
type State int

const (
	// Disconnected indicates the serial port is closed.
	Disconnected State = iota
	// SerialOpen indicates the serial port is open but the GSM subsystem is
	// not yet configured.
	SerialOpen
	// GsmReady indicates the modem is ready for SMS.
	GsmReady
	// GprsReady indicates the GPRS bearer is set up and ready for HTTP.
	GprsReady
)

var stateNames = []string{"disconnected", "serial_open", "gsm_ready", "gprs_ready"}

func (s State) String() string {
	if s < Disconnected || s > GprsReady {
		return "unknown"
	}
	return stateNames[s]
}

func parseState(name string) State {
	for i, n := range stateNames {
		if n == name {
			return State(i)
		}
	}
	return Disconnected
}

// events driving the state machine
const (
	evOpen     = "open"
	evGsmUp    = "gsm_up"
	evGprsUp   = "gprs_up"
	evGprsDown = "gprs_down"
	evClose    = "close"
)

// stateMachine tracks the connection state.
type stateMachine struct {
	f *fsm.FSM
}

func newStateMachine(callbacks fsm.Callbacks) *stateMachine {
	return &stateMachine{
		f: fsm.NewFSM(
			Disconnected.String(),
			fsm.Events{
				{Name: evOpen, Src: []string{Disconnected.String()}, Dst: SerialOpen.String()},
				{Name: evGsmUp, Src: []string{SerialOpen.String()}, Dst: GsmReady.String()},
				{Name: evGprsUp, Src: []string{GsmReady.String()}, Dst: GprsReady.String()},
				{Name: evGprsDown, Src: []string{GprsReady.String()}, Dst: GsmReady.String()},
				{Name: evClose,
					Src: []string{SerialOpen.String(), GsmReady.String(), GprsReady.String()},
					Dst: Disconnected.String()},
			},
			callbacks,
		),
	}
}

func (s *stateMachine) Current() State {
	return parseState(s.f.Current())
}

func (s *stateMachine) event(name string) error {
	return s.f.Event(context.Background(), name)
}

func (s *stateMachine) Open() error {
	return s.event(evOpen)
}

func (s *stateMachine) GsmUp() error {
	return s.event(evGsmUp)
}

func (s *stateMachine) GprsUp() error {
	return s.event(evGprsUp)
}

func (s *stateMachine) GprsDown() error {
	return s.event(evGprsDown)
}

// Close returns the machine to Disconnected from any state.
func (s *stateMachine) Close() error {
	if s.Current() == Disconnected {
		return nil
	}
	return s.event(evClose)
}
