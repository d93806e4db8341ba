// Package dispatch routes typed response envelopes to built-in actions or to
// the plugin registry, converting every failure into a displayable result.
package dispatch

import (
	"fmt"
	"os/exec"
	"runtime"

	"seven/internal/logging"
)

// Host is the side-effect layer the surrounding shell provides. The core only
// needs URL opening and user notification; everything else is built on those.
type Host interface {
	OpenURL(url string) error
	Notify(title, text string) error
}

// ExecHost opens URLs through the operating system's default handler and
// notifies by logging. It is the host used by the terminal front end.
type ExecHost struct{}

// OpenURL hands the URL to the platform opener.
func (ExecHost) OpenURL(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("open %s: %w", url, err)
	}
	// Release the child so a lingering browser process can't block us.
	go cmd.Wait()
	return nil
}

// Notify records the alert. A richer shell can replace this with a real
// notification surface.
func (ExecHost) Notify(title, text string) error {
	logging.Dispatch("alert [%s]: %s", title, text)
	fmt.Printf("\n[%s] %s\n", title, text)
	return nil
}
