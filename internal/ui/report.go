package ui

import (
	"fmt"
	"io"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/felixgeelhaar/cellar/internal/app"
	"github.com/felixgeelhaar/cellar/internal/domain/build"
	"github.com/felixgeelhaar/cellar/internal/domain/formula"
)

var title = cases.Title(language.English)

// PhaseTitle returns the display name of a phase, e.g. "Build".
func PhaseTitle(p build.Phase) string {
	return title.String(string(p))
}

// RenderReport writes one line per formula followed by a summary.
func RenderReport(w io.Writer, verb string, r app.Report) error {
	s := NewStyles(w)
	var b strings.Builder

	fmt.Fprintf(&b, "%s %s\n", s.Title.Render("==> "+title.String(verb)), r.Target)

	width := 0
	for _, e := range r.Entries {
		if n := len(e.Name) + 1 + len(e.Version); n > width {
			width = n
		}
	}

	for _, e := range r.Entries {
		icon, outcome := entryStatus(s, e)
		fmt.Fprintf(&b, "  %s %-*s  %s  %s\n", icon, width, e.Name+" "+e.Version, outcome, entryDetail(s, e))
		if e.Session != "" {
			fmt.Fprintf(&b, "      %s\n", s.Muted.Render("build directory kept at "+e.Session))
		}
	}

	fmt.Fprintf(&b, "%s\n", summary(r))
	_, err := io.WriteString(w, b.String())
	return err
}

func entryStatus(s Styles, e app.Entry) (string, string) {
	label := fmt.Sprintf("%-17s", e.Outcome)
	switch e.Outcome {
	case app.OutcomeInstalled:
		return s.Success.Render("✓"), s.Success.Render(label)
	case app.OutcomeAlreadyInstalled:
		return s.Success.Render("✓"), s.Muted.Render(label)
	case app.OutcomeDependencyFailed:
		return s.Warning.Render("-"), s.Warning.Render(label)
	default:
		return s.Error.Render("✗"), s.Error.Render(label)
	}
}

func entryDetail(s Styles, e app.Entry) string {
	switch e.Outcome {
	case app.OutcomeDependencyFailed:
		return s.Muted.Render("caused by " + e.Origin)
	case app.OutcomeFailed:
		return s.Error.Render(PhaseTitle(e.Phase) + " phase failed")
	}

	switch e.Verification {
	case build.VerificationPassed:
		return s.Success.Render("test passed")
	case build.VerificationFailed:
		return s.Warning.Render("test failed")
	default:
		return s.Muted.Render("test skipped")
	}
}

func summary(r app.Report) string {
	var parts []string
	for _, o := range []app.Outcome{
		app.OutcomeInstalled,
		app.OutcomeAlreadyInstalled,
		app.OutcomeFailed,
		app.OutcomeDependencyFailed,
	} {
		if n := r.Count(o); n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, o))
		}
	}
	noun := "formulae"
	if len(r.Entries) == 1 {
		noun = "formula"
	}
	return fmt.Sprintf("%d %s: %s in %s", len(r.Entries), noun, strings.Join(parts, ", "), r.Duration.Round(100*time.Millisecond))
}

// RenderDeps lists a resolution order, marking the target, versions that
// are not semantic versions, and the edges through which each formula was
// pulled in.
func RenderDeps(w io.Writer, target string, order []formula.Descriptor, runtimeOnly bool) error {
	s := NewStyles(w)
	var b strings.Builder

	kind := "Build order"
	if runtimeOnly {
		kind = "Runtime closure"
	}
	noun := "formulae"
	if len(order) == 1 {
		noun = "formula"
	}
	fmt.Fprintf(&b, "%s for %s (%d %s):\n", s.Title.Render(kind), target, len(order), noun)

	for i, d := range order {
		line := fmt.Sprintf("%3d. %s %s", i+1, d.Name(), d.Version())
		if !d.HasSemanticVersion() {
			line += s.Warning.Render(" [free-form version]")
		}
		if d.Name() == target {
			line += s.Info.Render(" (target)")
		}
		if deps := d.Dependencies(); len(deps) > 0 && !runtimeOnly {
			line += s.Muted.Render(" <- " + strings.Join(deps, ", "))
		} else if deps := d.RuntimeDeps(); len(deps) > 0 && runtimeOnly {
			line += s.Muted.Render(" <- " + strings.Join(deps, ", "))
		}
		b.WriteString(line + "\n")
	}

	_, err := io.WriteString(w, b.String())
	return err
}
