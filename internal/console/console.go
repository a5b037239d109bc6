// Package console renders session notices and status lines for the
// terminal.
package console

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"github.com/questsci/questlog/internal/session"
)

// Theme holds the colors used for each severity.
type Theme struct {
	Info    string
	Warning string
	Danger  string
	Success string
	Muted   string
}

// DefaultTheme is tuned for dark terminals.
var DefaultTheme = Theme{
	Info:    "#7aa2f7",
	Warning: "#e0af68",
	Danger:  "#f7768e",
	Success: "#9ece6a",
	Muted:   "#565f89",
}

// Styles are the lipgloss styles derived from a Theme.
type Styles struct {
	Info     lipgloss.Style
	Warning  lipgloss.Style
	Error    lipgloss.Style
	Critical lipgloss.Style
	Success  lipgloss.Style
	Muted    lipgloss.Style
	Label    lipgloss.Style
}

// Styles builds the style set for t.
func (t Theme) Styles() Styles {
	return Styles{
		Info:    lipgloss.NewStyle().Foreground(lipgloss.Color(t.Info)),
		Warning: lipgloss.NewStyle().Foreground(lipgloss.Color(t.Warning)).Bold(true),
		Error:   lipgloss.NewStyle().Foreground(lipgloss.Color(t.Danger)).Bold(true),
		Critical: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#1a1b26")).
			Background(lipgloss.Color(t.Danger)).
			Bold(true).
			Padding(0, 1),
		Success: lipgloss.NewStyle().Foreground(lipgloss.Color(t.Success)).Bold(true),
		Muted:   lipgloss.NewStyle().Foreground(lipgloss.Color(t.Muted)),
		Label:   lipgloss.NewStyle().Bold(true).Width(10),
	}
}

// Console writes styled lines to w. It implements session.NoticeSink.
type Console struct {
	mu     sync.Mutex
	w      io.Writer
	styles Styles
}

// New creates a Console with the default theme.
func New(w io.Writer) *Console {
	return &Console{w: w, styles: DefaultTheme.Styles()}
}

// Notify prints a notice tagged with its severity.
func (c *Console) Notify(n session.Notice) {
	c.println(c.tag(n.Severity) + " " + n.Message)
}

// Event prints a one-line status for a session snapshot.
func (c *Console) Event(ev session.Event) {
	c.println(c.StatusLine(ev.Snapshot))
}

// StatusLine renders a snapshot as a single line.
func (c *Console) StatusLine(s session.Snapshot) string {
	parts := []string{c.phase(s.Phase)}
	if s.Sensor != "" {
		parts = append(parts, s.Sensor)
	}
	if s.Scanning {
		parts = append(parts, c.styles.Warning.Render("scanning"))
	}
	if s.Connected {
		parts = append(parts, c.styles.Success.Render("connected"))
	} else {
		parts = append(parts, c.styles.Muted.Render("disconnected"))
	}
	parts = append(parts, fmt.Sprintf("%d samples", s.Count))
	if s.Ack {
		parts = append(parts, c.styles.Success.Render("saved"))
	}
	if s.LastError != "" {
		parts = append(parts, c.styles.Error.Render("last error: "+s.LastError))
	}
	if s.SessionID != "" {
		parts = append(parts, c.styles.Muted.Render("session "+shortID(s.SessionID)))
	}
	return strings.Join(parts, c.styles.Muted.Render(" | "))
}

// Field prints an aligned "label value" line.
func (c *Console) Field(label, value string) {
	c.println("  " + c.styles.Label.Render(label) + value)
}

// Title prints a heading.
func (c *Console) Title(s string) {
	c.println(c.styles.Info.Bold(true).Render("=== " + s + " ==="))
}

// Success prints a confirmation line.
func (c *Console) Success(s string) {
	c.println(c.styles.Success.Render(s))
}

func (c *Console) phase(p session.Phase) string {
	label := strings.ToUpper(p.String())
	switch p {
	case session.PhaseSampling:
		return c.styles.Success.Render(label)
	case session.PhaseStarting:
		return c.styles.Warning.Render(label)
	default:
		return c.styles.Muted.Render(label)
	}
}

func (c *Console) tag(sev session.Severity) string {
	label := strings.ToUpper(sev.String())
	switch sev {
	case session.SeverityCritical:
		return c.styles.Critical.Render(label)
	case session.SeverityError:
		return c.styles.Error.Render(label)
	case session.SeverityWarning:
		return c.styles.Warning.Render(label)
	default:
		return c.styles.Info.Render(label)
	}
}

// shortID keeps the first UUID group, enough to match log lines by eye.
func shortID(id string) string {
	if i := strings.IndexByte(id, '-'); i > 0 {
		return id[:i]
	}
	return id
}

func (c *Console) println(s string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.w, s)
}
