// Package share hands an exported CSV to the user: copied to the system
// clipboard, attached to a new mail, or left on disk.
package share

import (
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/go-vgo/robotgo"
)

// ErrEmpty is returned when there is nothing to share.
var ErrEmpty = errors.New("share: empty csv")

// Sharer delivers an exported CSV. path is the file on disk, csv its
// contents.
type Sharer interface {
	Share(path string, csv []byte) error
}

// Options configures New.
type Options struct {
	Method  string // "clipboard", "mail" or "none"
	Email   string // mail recipient; may be empty
	Jobcode string // used in the mail subject
}

// New returns the Sharer for opts.Method.
func New(opts Options) Sharer {
	switch opts.Method {
	case "clipboard":
		return NewClipboard()
	case "mail":
		return NewMail(opts.Email, opts.Jobcode)
	default:
		return None{}
	}
}

// None leaves the export on disk.
type None struct{}

func (None) Share(string, []byte) error { return nil }

// Clipboard copies the CSV text to the system clipboard.
type Clipboard struct {
	write func(string) error
}

// NewClipboard returns a clipboard sharer backed by robotgo.
func NewClipboard() *Clipboard {
	return &Clipboard{write: robotgo.WriteAll}
}

func (c *Clipboard) Share(path string, csv []byte) error {
	if len(csv) == 0 {
		return ErrEmpty
	}
	if err := c.write(string(csv)); err != nil {
		return fmt.Errorf("share: write %s to clipboard: %w", filepath.Base(path), err)
	}
	slog.Info("[EXPORT] csv copied to clipboard", "name", filepath.Base(path), "bytes", len(csv))
	return nil
}

// Mail opens the desktop mail composer with the CSV attached.
type Mail struct {
	To      string
	Subject string
	run     func(name string, args ...string) error
}

// NewMail returns a mail sharer using xdg-email.
func NewMail(to, jobcode string) *Mail {
	return &Mail{To: to, Subject: "Exported Data - " + jobcode, run: runCommand}
}

func runCommand(name string, args ...string) error {
	out, err := exec.Command(name, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(string(out)))
	}
	return nil
}

func (m *Mail) Share(path string, csv []byte) error {
	if len(csv) == 0 {
		return ErrEmpty
	}
	args := []string{
		"--subject", m.Subject,
		"--body", "Attached is the exported dataset.",
		"--attach", path,
	}
	if m.To != "" {
		args = append(args, m.To)
	}
	if err := m.run("xdg-email", args...); err != nil {
		return fmt.Errorf("share: open mail composer: %w", err)
	}
	slog.Info("[EXPORT] csv attached to mail", "path", path, "to", m.To)
	return nil
}
