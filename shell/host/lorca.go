package host

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/zserge/lorca"
)

const (
	loadPollInterval  = 100 * time.Millisecond
	loadTimeout       = 10 * time.Second
	pageWatchInterval = time.Second

	// shortcutsInstalled is false after a full page load discards the injected script.
	shortcutsInstalled = "!!window.__deskshellShortcuts"
)

// browser is the part of a lorca UI the host uses.
type browser interface {
	Load(url string) error
	Bind(name string, f interface{}) error
	Eval(js string) (bool, error)
	Restore() error
	Done() <-chan struct{}
	Close() error
}

type lorcaBrowser struct {
	ui lorca.UI
}

func (b lorcaBrowser) Load(url string) error                 { return b.ui.Load(url) }
func (b lorcaBrowser) Bind(name string, f interface{}) error { return b.ui.Bind(name, f) }
func (b lorcaBrowser) Done() <-chan struct{}                 { return b.ui.Done() }
func (b lorcaBrowser) Close() error                          { return b.ui.Close() }

func (b lorcaBrowser) Eval(js string) (bool, error) {
	v := b.ui.Eval(js)
	if err := v.Err(); err != nil {
		return false, err
	}
	return v.Bool(), nil
}

func (b lorcaBrowser) Restore() error {
	return b.ui.SetBounds(lorca.Bounds{WindowState: lorca.WindowStateNormal})
}

// LorcaOptions configures the Chrome app window.
type LorcaOptions struct {
	ProfileDir string   // Chrome user data dir, a temporary one when empty
	ChromeArgs []string // Extra command line flags
}

// Lorca hosts a single Chrome app window through github.com/zserge/lorca.
type Lorca struct {
	logger *slog.Logger
	opts   LorcaOptions
	open   func(url, dir string, width, height int, args ...string) (browser, error)
	watch  time.Duration

	mu       sync.Mutex
	window   *lorcaWindow
	items    []MenuItem
	onSelect func(id string)

	done     chan struct{}
	exitOnce sync.Once
}

// NewLorca creates a host. No window is opened until CreateWindow.
func NewLorca(opts LorcaOptions, logger *slog.Logger) *Lorca {
	if logger == nil {
		logger = slog.Default()
	}
	return &Lorca{
		logger: logger.With("component", "Host"),
		opts:   opts,
		open:   openLorca,
		watch:  pageWatchInterval,
		done:   make(chan struct{}),
	}
}

func openLorca(url, dir string, width, height int, args ...string) (browser, error) {
	ui, err := lorca.New(url, dir, width, height, args...)
	if err != nil {
		return nil, err
	}
	return lorcaBrowser{ui: ui}, nil
}

// CreateWindow opens the Chrome app window. Closing it exits the host.
func (h *Lorca) CreateWindow(opts WindowOptions) (Window, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	select {
	case <-h.done:
		return nil, ErrNoWindow
	default:
	}
	if h.window != nil {
		return nil, ErrWindowExists
	}

	width, height := opts.Width, opts.Height
	if width < opts.MinWidth {
		width = opts.MinWidth
	}
	if height < opts.MinHeight {
		height = opts.MinHeight
	}

	b, err := h.open(opts.URL, h.opts.ProfileDir, width, height, h.opts.ChromeArgs...)
	if err != nil {
		return nil, fmt.Errorf("host: open window %s: %w", opts.ID, err)
	}

	w := &lorcaWindow{host: h, browser: b, opts: opts}
	if err := b.Bind(MenuBinding, h.dispatch); err != nil {
		b.Close()
		return nil, fmt.Errorf("host: bind menu: %w", err)
	}
	h.window = w
	h.logger.Info("Window created", "id", opts.ID, "width", width, "height", height)

	go func() {
		select {
		case <-b.Done():
			h.logger.Info("Window closed", "id", opts.ID)
			h.Exit()
		case <-h.done:
		}
	}()
	return w, nil
}

// RegisterMenu records the menu. The page exposes it through keyboard shortcuts.
func (h *Lorca) RegisterMenu(items []MenuItem, onSelect func(id string)) error {
	if _, err := shortcutScript(items); err != nil {
		return fmt.Errorf("host: register menu: %w", err)
	}

	h.mu.Lock()
	h.items = append([]MenuItem(nil), items...)
	h.onSelect = onSelect
	w := h.window
	h.mu.Unlock()

	if w != nil {
		return w.installShortcuts()
	}
	return nil
}

func (h *Lorca) dispatch(id string) {
	h.mu.Lock()
	onSelect := h.onSelect
	h.mu.Unlock()

	if onSelect == nil {
		h.logger.Warn("Menu selection without a menu", "id", id)
		return
	}
	h.logger.Info("Menu selected", "id", id)
	onSelect(id)
}

func (h *Lorca) menuItems() []MenuItem {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.items
}

// Exit closes the window and releases Done.
func (h *Lorca) Exit() {
	h.exitOnce.Do(func() {
		h.mu.Lock()
		w := h.window
		h.window = nil
		h.mu.Unlock()

		close(h.done)
		if w != nil {
			if err := w.browser.Close(); err != nil {
				h.logger.Warn("Failed to close window", "error", err)
			}
		}
	})
}

// Done is closed once the host has exited.
func (h *Lorca) Done() <-chan struct{} {
	return h.done
}

type lorcaWindow struct {
	host     *Lorca
	browser  browser
	opts     WindowOptions
	watching sync.Once
}

// Navigate loads url and installs shortcuts once the page has loaded. Later full page
// loads inside the window get the title and shortcuts again.
func (w *lorcaWindow) Navigate(url string) error {
	if err := w.browser.Load(url); err != nil {
		return fmt.Errorf("host: navigate to %s: %w", url, err)
	}
	if err := w.waitLoaded(url); err != nil {
		return err
	}
	if err := w.decorate(); err != nil {
		return err
	}
	w.watching.Do(func() { go w.watchPage() })
	return nil
}

func (w *lorcaWindow) decorate() error {
	if w.opts.Title != "" {
		if _, err := w.browser.Eval(titleScript(w.opts.Title)); err != nil {
			w.host.logger.Warn("Failed to set window title", "error", err)
		}
	}
	return w.installShortcuts()
}

// watchPage reinstalls the page decorations whenever a navigation inside the window
// replaced the document.
func (w *lorcaWindow) watchPage() {
	ticker := time.NewTicker(w.host.watch)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
		case <-w.browser.Done():
			return
		case <-w.host.done:
			return
		}
		installed, err := w.browser.Eval(shortcutsInstalled)
		if err != nil || installed {
			continue
		}
		w.host.logger.Info("Page reloaded, reinstalling shortcuts", "id", w.opts.ID)
		if err := w.decorate(); err != nil {
			w.host.logger.Warn("Failed to reinstall shortcuts", "error", err)
		}
	}
}

func (w *lorcaWindow) waitLoaded(url string) error {
	prefix := strings.TrimSuffix(url, "/")
	check := fmt.Sprintf("document.readyState!=='loading'&&location.href.indexOf(%q)===0", prefix)

	deadline := time.Now().Add(loadTimeout)
	for {
		loaded, err := w.browser.Eval(check)
		if err == nil && loaded {
			return nil
		}
		if time.Now().After(deadline) {
			if err != nil {
				return fmt.Errorf("host: waiting for %s: %w", url, err)
			}
			return fmt.Errorf("host: %s did not load within %v", url, loadTimeout)
		}
		time.Sleep(loadPollInterval)
	}
}

func (w *lorcaWindow) installShortcuts() error {
	script, err := shortcutScript(w.host.menuItems())
	if err != nil || script == "" {
		return err
	}
	if _, err := w.browser.Eval(script); err != nil {
		return fmt.Errorf("host: install shortcuts: %w", err)
	}
	return nil
}

// Show brings the window to the normal state.
func (w *lorcaWindow) Show() error {
	return w.browser.Restore()
}

func (w *lorcaWindow) Eval(script string) error {
	_, err := w.browser.Eval(script)
	return err
}

// Close closes the window, which exits the host.
func (w *lorcaWindow) Close() error {
	return w.browser.Close()
}
