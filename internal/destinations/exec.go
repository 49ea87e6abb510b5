package destinations

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"

	"github.com/idlemail/mailhubd/internal/mail"
)

// Exec delivers a Mail by spawning a subprocess and writing the raw body to
// its stdin. The process inherits the daemon's own environment plus
// whatever extra variables the configuration adds; a non-zero exit status
// is treated as a delivery failure.
type Exec struct {
	name        mail.DestinationName
	executable  string
	args        []string
	environment map[string]string
}

// NewExec builds an Exec destination. environment may be nil.
func NewExec(name mail.DestinationName, executable string, args []string, environment map[string]string) *Exec {
	return &Exec{name: name, executable: executable, args: args, environment: environment}
}

// Name implements hub.Destination.
func (e *Exec) Name() mail.DestinationName { return e.name }

// Deliver runs the configured executable once per Mail, piping the body to
// its stdin and capturing stderr for the error it returns on failure.
func (e *Exec) Deliver(m mail.Mail) error {
	cmd := exec.Command(e.executable, e.args...)
	cmd.Stdin = bytes.NewReader(m.Body())
	cmd.Env = mergeEnv(os.Environ(), e.environment)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("exec %s failed: %w (stderr: %s)", e.executable, err, stderr.String())
	}
	return nil
}

// mergeEnv appends extra as KEY=VALUE pairs on top of base. Variables in
// extra take precedence over same-named ones already in base, because the
// child process reads its last-wins duplicate the same way the shell does.
func mergeEnv(base []string, extra map[string]string) []string {
	if len(extra) == 0 {
		return base
	}
	merged := make([]string, 0, len(base)+len(extra))
	merged = append(merged, base...)
	for k, v := range extra {
		merged = append(merged, k+"="+v)
	}
	return merged
}
