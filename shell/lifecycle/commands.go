package lifecycle

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/tomyedwab/deskshell/shell/host"
)

// Command is a menu action.
type Command string

const (
	// CommandQuit exits the host application.
	CommandQuit Command = "quit"
	// CommandClose closes the main window.
	CommandClose Command = "close"
	// CommandZoomIn enlarges the page.
	CommandZoomIn Command = "zoom_in"
	// CommandZoomOut shrinks the page.
	CommandZoomOut Command = "zoom_out"
	// CommandZoomReset restores the default zoom.
	CommandZoomReset Command = "zoom_reset"
)

const (
	defaultZoom = 1.0
	zoomStep    = 0.1
	minZoom     = 0.1
)

// ParseCommand accepts both "zoom-in" and "zoom_in".
func ParseCommand(s string) (Command, error) {
	cmd := Command(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_"))
	switch cmd {
	case CommandQuit, CommandClose, CommandZoomIn, CommandZoomOut, CommandZoomReset:
		return cmd, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownCommand, s)
}

// DefaultMenu is the application menu with its keyboard shortcuts.
func DefaultMenu() []host.MenuItem {
	return []host.MenuItem{
		{ID: string(CommandQuit), Label: "Quit", Accelerator: "CmdOrCtrl+Q"},
		{ID: string(CommandClose), Label: "Close Window", Accelerator: "CmdOrCtrl+W"},
		{ID: string(CommandZoomIn), Label: "Zoom In", Accelerator: "CmdOrCtrl+="},
		{ID: string(CommandZoomOut), Label: "Zoom Out", Accelerator: "CmdOrCtrl+-"},
		{ID: string(CommandZoomReset), Label: "Actual Size", Accelerator: "CmdOrCtrl+0"},
	}
}

func (c *Coordinator) registerMenu() error {
	return c.host.RegisterMenu(DefaultMenu(), func(id string) {
		cmd, err := ParseCommand(id)
		if err != nil {
			c.logger.Warn("Ignoring menu selection", "id", id, "error", err)
			return
		}
		if err := c.Dispatch(cmd); err != nil {
			c.logger.Warn("Menu command failed", "command", string(cmd), "error", err)
		}
	})
}

// Dispatch runs a menu command.
func (c *Coordinator) Dispatch(cmd Command) error {
	switch cmd {
	case CommandQuit:
		c.logger.Info("Quit requested")
		c.host.Exit()
		return nil
	case CommandClose:
		window, err := c.currentWindow()
		if err != nil {
			return err
		}
		return window.Close()
	case CommandZoomIn:
		return c.applyZoom(func(z float64) float64 { return z + zoomStep })
	case CommandZoomOut:
		return c.applyZoom(func(z float64) float64 { return z - zoomStep })
	case CommandZoomReset:
		return c.applyZoom(func(float64) float64 { return defaultZoom })
	}
	return fmt.Errorf("%w: %q", ErrUnknownCommand, string(cmd))
}

// Zoom returns the current page scale.
func (c *Coordinator) Zoom() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.zoom
}

func (c *Coordinator) currentWindow() (host.Window, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.window == nil {
		return nil, ErrNoWindow
	}
	return c.window, nil
}

func (c *Coordinator) applyZoom(next func(float64) float64) error {
	c.mu.Lock()
	if c.window == nil {
		c.mu.Unlock()
		return ErrNoWindow
	}
	zoom := clampZoom(next(c.zoom))
	c.zoom = zoom
	window := c.window
	c.mu.Unlock()

	return window.Eval(ZoomScript(zoom))
}

func clampZoom(z float64) float64 {
	z = math.Round(z*10) / 10
	if z < minZoom {
		return minZoom
	}
	return z
}

// ZoomScript sets the page zoom to scale.
func ZoomScript(scale float64) string {
	return fmt.Sprintf("document.body.style.zoom = %q", strconv.FormatFloat(scale, 'f', 1, 64))
}
