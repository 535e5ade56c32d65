// Package diag is the external diagnostics sink the scheduler and the
// top-level driver report uncaught errors and stack traces to.
package diag

import (
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lumenlang/lumen/machine"
)

// Record is one structured diagnostics entry: an uncaught error from a
// fiber that had no supervisor channel, with its captured call stack.
type Record struct {
	FiberID int64              `yaml:"fiber_id"`
	Time    time.Time          `yaml:"time"`
	Message string             `yaml:"message"`
	Stack   []machine.FrameInfo `yaml:"stack,omitempty"`
}

// Sink collects Records, writes each one as a plain-text
// `top level signal - <message>` report, and can dump all of them as a YAML
// snapshot (DumpYAML) for an embedding host's debug-dump primitive.
type Sink struct {
	w       io.Writer
	records []Record
}

// New returns a Sink that also streams each report as `top level signal -
// <message>` to w (typically the process's stderr), matching the
// user-visible failure format.
func New(w io.Writer) *Sink {
	return &Sink{w: w}
}

// ReportUncaught implements sched.DiagSink.
func (s *Sink) ReportUncaught(fiberID int64, err error, trace []machine.FrameInfo) {
	rec := Record{FiberID: fiberID, Time: time.Now(), Message: err.Error(), Stack: trace}
	s.records = append(s.records, rec)
	if s.w != nil {
		fmt.Fprintf(s.w, "top level signal - %s\n", err)
		for _, fr := range trace {
			fmt.Fprintf(s.w, "\tat %s (line %d, col %d)\n", fr.Name, fr.Line, fr.Col)
		}
	}
}

// Records returns every report collected so far, oldest first.
func (s *Sink) Records() []Record { return s.records }

// DumpYAML marshals every collected record as a YAML document, used by the
// embedding host's debug-dump primitive to snapshot the diagnostics
// history without re-running the program.
func (s *Sink) DumpYAML() ([]byte, error) {
	return yaml.Marshal(s.records)
}
