// Package host abstracts the desktop window the shell renders the backend in.
package host

import (
	"errors"
	"fmt"
	"strings"
)

// ErrWindowExists is returned when a second window is requested from a single-window host.
var ErrWindowExists = errors.New("host: window already created")

// ErrNoWindow is returned by window operations after the window is gone.
var ErrNoWindow = errors.New("host: no window")

// WindowOptions describes the main window.
type WindowOptions struct {
	ID        string
	URL       string // Initial page, empty for a blank window
	Title     string
	Width     int
	Height    int
	MinWidth  int
	MinHeight int
}

// MenuItem is one application menu entry. Accelerator uses the CmdOrCtrl+<key> form.
type MenuItem struct {
	ID          string
	Label       string
	Accelerator string
}

// Host is the windowing host the coordinator drives.
type Host interface {
	CreateWindow(opts WindowOptions) (Window, error)
	// RegisterMenu installs items; onSelect receives the item ID.
	RegisterMenu(items []MenuItem, onSelect func(id string)) error
	// Exit closes every window and makes Done fire. Safe to call more than once.
	Exit()
	// Done is closed when the host exits, by request or because the user closed it.
	Done() <-chan struct{}
}

// Window is a single host window.
type Window interface {
	Navigate(url string) error
	Show() error
	Eval(script string) error
	Close() error
}

// Accelerator is a parsed keyboard shortcut.
type Accelerator struct {
	CmdOrCtrl bool
	Shift     bool
	Alt       bool
	Key       string
}

// ParseAccelerator parses strings like "CmdOrCtrl+Shift+Q" or "CmdOrCtrl+=".
func ParseAccelerator(s string) (Accelerator, error) {
	var acc Accelerator
	if s == "" {
		return acc, fmt.Errorf("host: empty accelerator")
	}

	parts := strings.Split(s, "+")
	key := parts[len(parts)-1]
	modifiers := parts[:len(parts)-1]
	// "CmdOrCtrl++" names the plus key
	if key == "" && len(parts) >= 2 && parts[len(parts)-2] == "" {
		key = "+"
		modifiers = parts[:len(parts)-2]
	}
	if key == "" {
		return acc, fmt.Errorf("host: accelerator %q has no key", s)
	}

	for _, m := range modifiers {
		switch strings.ToLower(m) {
		case "cmdorctrl", "commandorcontrol", "cmd", "command", "ctrl", "control":
			acc.CmdOrCtrl = true
		case "shift":
			acc.Shift = true
		case "alt", "option":
			acc.Alt = true
		default:
			return acc, fmt.Errorf("host: accelerator %q has unknown modifier %q", s, m)
		}
	}
	if len(key) == 1 {
		key = strings.ToLower(key)
	}
	acc.Key = key
	return acc, nil
}
