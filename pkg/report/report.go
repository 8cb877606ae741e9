// Package report collects the labelled output of one experiment run and
// writes it out in execution order.
package report

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/renameio/v2"

	"Netexp/api"
	"Netexp/pkg/probe"
)

type SectionKind int

const (
	SectionText SectionKind = iota
	SectionCommands
	SectionOutput
	SectionProbe
)

type Section struct {
	Label    string
	Kind     SectionKind
	Text     string
	Commands []api.Directive
	Probe    *probe.Result
}

// Report has a single writer; sections keep the order they were added in.
type Report struct {
	Title    string
	sections []Section
}

func New(title string) *Report {
	return &Report{Title: title}
}

func (r *Report) Text(label, text string) {
	r.sections = append(r.sections, Section{Label: label, Kind: SectionText, Text: text})
}

// Commands echoes the commands that were issued, without their output.
func (r *Report) Commands(label string, cmds []api.Directive) {
	r.sections = append(r.sections, Section{Label: label, Kind: SectionCommands, Commands: cmds})
}

// Output records a command's captured output verbatim.
func (r *Report) Output(label, output string) {
	r.sections = append(r.sections, Section{Label: label, Kind: SectionOutput, Text: output})
}

func (r *Report) Probe(label string, res probe.Result) {
	if label == "" {
		label = ProbeLabel(res)
	}
	r.sections = append(r.sections, Section{Label: label, Kind: SectionProbe, Probe: &res})
}

func (r *Report) Sections() []Section {
	return r.sections
}

// Probes returns the probe results in the order they ran.
func (r *Report) Probes() []probe.Result {
	var out []probe.Result
	for _, s := range r.sections {
		if s.Kind == SectionProbe {
			out = append(out, *s.Probe)
		}
	}
	return out
}

// ProbeLabel is the default heading of a probe block.
func ProbeLabel(res probe.Result) string {
	return fmt.Sprintf("Ping from %s (%s) to %s (%s)", res.Src, res.SrcIP, res.Dst, res.DstIP)
}

func (r *Report) WriteTo(w io.Writer) (int64, error) {
	var b strings.Builder
	b.WriteString(r.Title)
	b.WriteString("\n\n")
	for _, s := range r.sections {
		b.WriteString(s.Label)
		b.WriteByte('\n')
		switch s.Kind {
		case SectionText, SectionOutput:
			writeBlock(&b, s.Text)
		case SectionCommands:
			for _, d := range s.Commands {
				b.WriteString(d.Command)
				b.WriteByte('\n')
			}
		case SectionProbe:
			writeBlock(&b, s.Probe.Output)
			if s.Probe.Err != nil && !s.Probe.Success {
				fmt.Fprintf(&b, "error: %v\n", s.Probe.Err)
			}
			fmt.Fprintf(&b, "Result: %s\n", s.Probe.Verdict())
		}
		b.WriteByte('\n')
	}
	n, err := io.WriteString(w, b.String())
	return int64(n), err
}

func (r *Report) String() string {
	var b strings.Builder
	_, _ = r.WriteTo(&b)
	return b.String()
}

func writeBlock(b *strings.Builder, text string) {
	b.WriteString(text)
	if text != "" && !strings.HasSuffix(text, "\n") {
		b.WriteByte('\n')
	}
}

// WriteFile replaces path with the rendered report. Readers see either the
// previous report or the complete new one.
func (r *Report) WriteFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create report dir: %v", err)
	}
	if err := renameio.WriteFile(path, []byte(r.String()), 0o644); err != nil {
		return fmt.Errorf("write report: %v", err)
	}
	return nil
}
