// Package config loads VM/event-loop/channel tuning from environment
// variables, using the `env:"..."` struct-tag convention.
package config

import (
	"time"

	"github.com/caarlos0/env/v6"
)

// VM holds the per-machine.VM tunables the embedding host would otherwise
// have to wire by hand: instruction and call-depth budgets, and a default
// channel capacity. Nothing in this module reads DefaultChanCap; it is
// only loaded and exposed.
type VM struct {
	MaxSteps       uint64 `env:"LUMEN_MAX_STEPS" envDefault:"0"`
	MaxCallDepth   int    `env:"LUMEN_MAX_CALL_DEPTH" envDefault:"0"`
	DefaultChanCap int    `env:"LUMEN_CHAN_CAPACITY" envDefault:"16"`
}

// Loop holds the sched.Loop tunables: the longest a single poll wait is
// allowed to block even with no timer armed (a safety net against a wedged
// poller on a platform whose Wake implementation misbehaves), and whether
// to use the edge- or level-triggered poller registration mode by default.
type Loop struct {
	MaxPollWait   time.Duration `env:"LUMEN_MAX_POLL_WAIT" envDefault:"30s"`
	EdgeTriggered bool          `env:"LUMEN_EDGE_TRIGGERED" envDefault:"false"`
}

// Load populates a VM and Loop config pair from the process environment,
// applying the envDefault tags above for anything unset.
func Load() (VM, Loop, error) {
	var vm VM
	if err := env.Parse(&vm); err != nil {
		return VM{}, Loop{}, err
	}
	var loop Loop
	if err := env.Parse(&loop); err != nil {
		return VM{}, Loop{}, err
	}
	return vm, loop, nil
}
