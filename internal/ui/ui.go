package ui

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/charmbracelet/lipgloss"

	"github.com/Pirikara/pipgate/internal/firewall"
	"github.com/Pirikara/pipgate/internal/policy"
)

// Printer renders user-facing messages. Colors are only emitted when the
// writer is a terminal.
type Printer struct {
	w io.Writer

	panel   lipgloss.Style
	title   lipgloss.Style
	label   lipgloss.Style
	reason  lipgloss.Style
	dim     lipgloss.Style
	bold    lipgloss.Style
	success lipgloss.Style
	failure lipgloss.Style
	warning lipgloss.Style
	info    lipgloss.Style
}

// New creates a printer writing to w
func New(w io.Writer) *Printer {
	r := lipgloss.NewRenderer(w)
	return &Printer{
		w: w,
		panel: r.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("9")).
			Padding(1, 2),
		title:   r.NewStyle().Bold(true).Foreground(lipgloss.Color("9")),
		label:   r.NewStyle().Bold(true).Foreground(lipgloss.Color("6")),
		reason:  r.NewStyle().Bold(true).Foreground(lipgloss.Color("3")),
		dim:     r.NewStyle().Faint(true),
		bold:    r.NewStyle().Bold(true),
		success: r.NewStyle().Foreground(lipgloss.Color("2")),
		failure: r.NewStyle().Foreground(lipgloss.Color("1")),
		warning: r.NewStyle().Foreground(lipgloss.Color("3")),
		info:    r.NewStyle().Foreground(lipgloss.Color("4")),
	}
}

func (p *Printer) println(s string) {
	fmt.Fprintln(p.w, s)
}

// Success prints a green status line
func (p *Printer) Success(msg string) {
	p.println(p.success.Render("✅ " + msg))
}

// Error prints a red status line
func (p *Printer) Error(msg string) {
	p.println(p.failure.Render("❌ " + msg))
}

// Warning prints a yellow status line
func (p *Printer) Warning(msg string) {
	p.println(p.warning.Render("⚠️  " + msg))
}

// Info prints a blue status line
func (p *Printer) Info(msg string) {
	p.println(p.info.Render("ℹ️  " + msg))
}

// Dim prints a faint hint line
func (p *Printer) Dim(msg string) {
	p.println(p.dim.Render(msg))
}

// Installing announces the handoff to the installer
func (p *Printer) Installing(packages []string) {
	p.println(p.bold.Render("📦 Installing " + strings.Join(packages, ", ") + "..."))
}

// BlockedPanel prints the framed explanation for a refused package.
// An empty version renders as "any".
func (p *Printer) BlockedPanel(name, version, reason, detailsURL string) {
	if version == "" {
		version = "any"
	}

	content := strings.Join([]string{
		p.title.Render("🚫 Installation Blocked"),
		"",
		p.label.Render("Package:") + " " + name,
		p.label.Render("Version:") + " " + version,
		"",
		p.reason.Render("Reason:") + " " + reason,
		"",
		p.bold.Render("For details:") + " " + p.dim.Render("curl "+detailsURL),
	}, "\n")

	p.println("")
	p.println(p.panel.Render(content))
	p.println("")
}

// Verdict prints a blocked panel for a refused verdict, or a success line
func (p *Printer) Verdict(v policy.Verdict, detailsURL string) {
	switch v.Outcome {
	case policy.OutcomeAllow:
		p.Success("Security checks passed for " + v.Specifier.Raw)
	case policy.OutcomeIndeterminate:
		p.Error(fmt.Sprintf("Could not verify %s: %s", v.Specifier.Raw, v.Reason))
	default:
		p.BlockedPanel(v.Specifier.Name, v.Specifier.Version, v.Reason, detailsURL)
	}
}

// BlockedArtifacts lists artifacts the index refused during installation
func (p *Printer) BlockedArtifacts(artifacts []string) {
	if len(artifacts) == 0 {
		return
	}
	p.println("")
	p.Error(fmt.Sprintf("Firewall blocked %d package(s)", len(artifacts)))
	for _, a := range artifacts {
		p.println("  " + p.failure.Render("✗") + " " + a)
	}
	p.println("")
	p.Info("For details, run: pipgate audit " + artifacts[0])
}

// AuditReport is everything shown for a single audited package
type AuditReport struct {
	Package    string
	Record     *firewall.BlockRecord
	Index      firewall.IndexStatus
	DetailsURL string
}

// Audit prints the audit report for one package
func (p *Printer) Audit(report AuditReport) {
	if report.Record == nil {
		p.println("")
		p.Success(fmt.Sprintf("Package '%s' is allowed", report.Package))
		p.Dim("No versions are currently blocked by the firewall")
	} else {
		reason := policy.ReasonNoDetails
		if len(report.Record.Reasons) > 0 {
			reason = strings.Join(report.Record.Reasons, "; ")
		}
		p.BlockedPanel(report.Package, blockedSummary(report.Record), reason, report.DetailsURL)

		if versions := SortVersions(report.Record.BlockedVersions); len(versions) > 0 {
			p.println(p.bold.Render("Blocked versions:") + " " + strings.Join(versions, ", "))
		}
	}

	if report.Index != "" {
		p.println(p.bold.Render("Index status:") + " " + describeIndex(report.Index))
	}
}

func blockedSummary(r *firewall.BlockRecord) string {
	if r.BlocksAll() {
		return "all versions"
	}
	count := r.BlockedCount
	if count == 0 {
		count = len(r.BlockedVersions)
	}
	return fmt.Sprintf("%d version(s)", count)
}

func describeIndex(status firewall.IndexStatus) string {
	switch status {
	case firewall.IndexExists:
		return "served"
	case firewall.IndexNotFound:
		return "not found"
	case firewall.IndexBlocked:
		return "blocked (403)"
	default:
		return string(status)
	}
}

// SortVersions orders versions by semantic version, oldest first. Strings
// that do not parse follow in lexical order. The input is not modified.
func SortVersions(versions []string) []string {
	type parsed struct {
		raw string
		v   *semver.Version
	}

	var valid []parsed
	var other []string
	for _, raw := range versions {
		if v, err := semver.NewVersion(raw); err == nil {
			valid = append(valid, parsed{raw: raw, v: v})
		} else {
			other = append(other, raw)
		}
	}

	sort.SliceStable(valid, func(i, j int) bool {
		return valid[i].v.LessThan(valid[j].v)
	})
	sort.Strings(other)

	out := make([]string, 0, len(versions))
	for _, p := range valid {
		out = append(out, p.raw)
	}
	return append(out, other...)
}
