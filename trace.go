package main

import (
	yaml "gopkg.in/yaml.v2"
)

// TraceEvent is one scheduler event, in the shape the golden-trace
// tests marshal.
type TraceEvent struct {
	Tick     int64  `yaml:"tick"`
	Event    string `yaml:"event"`
	Thread   string `yaml:"thread"`
	Priority int    `yaml:"priority"`
}

// Trace records scheduler events (create, switch, sleep, wake,
// donate, exit) when enabled at boot. Recording happens with
// interrupts off, so no further locking.
type Trace struct {
	enabled bool
	events  []TraceEvent
}

func (tr *Trace) record(tick int64, event, thread string, priority int) {
	if tr == nil || !tr.enabled {
		return
	}
	tr.events = append(tr.events, TraceEvent{
		Tick:     tick,
		Event:    event,
		Thread:   thread,
		Priority: priority,
	})
}

// Events returns the recorded events.
func (tr *Trace) Events() []TraceEvent {
	return tr.events
}

// YAML marshals the recorded events for golden comparison.
func (tr *Trace) YAML() (string, error) {
	b, err := yaml.Marshal(tr.events)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
