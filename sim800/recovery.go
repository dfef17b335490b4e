// SPDX-License-Identifier: MIT
//
// Copyright © 2020 Kent Gibson <warthog618@gmail.com>.

package sim800

import (
	"time"

	"go.uber.org/zap"
)

// recoveryStep is one rung of the recovery ladder.
type recoveryStep struct {
	name   string
	action func() error
	settle time.Duration
}

// recover escalates through the recovery ladder until the modem responds.
//
// Each step is only attempted if the modem is still unresponsive after the
// previous one.
func (m *Modem) recover() error {
	steps := []recoveryStep{
		{"reset to default config", m.resetDefaults, 0},
		{"hardware reset", m.ctrl.HardwareReset, m.timings.ResetSettle},
		{"power cycle", m.ctrl.PowerCycle, m.timings.PowerSettle},
	}
	for _, s := range steps {
		m.log.Warn("ping failed, recovering", zap.String("step", s.name))
		if err := s.action(); err != nil {
			m.log.Warn("recovery step failed", zap.String("step", s.name), zap.Error(err))
		} else if s.settle > 0 {
			m.sleep(s.settle)
		}
		if m.ping() {
			m.log.Info("recovered", zap.String("step", s.name))
			return nil
		}
	}
	m.log.Error("no response after recovery")
	return ErrUnreachable
}

// resetDefaults aborts any pending prompt and resets the modem configuration.
func (m *Modem) resetDefaults() error {
	if err := m.at.Escape(); err != nil {
		return err
	}
	_, err := m.at.Command("Z", 0)
	return err
}
