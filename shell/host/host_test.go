package host

import (
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakeBrowser struct {
	mu       sync.Mutex
	loaded   []string
	scripts  []string
	bindings map[string]interface{}
	restored int
	result   func(js string) bool // Eval result, true when nil
	done     chan struct{}
	closed   sync.Once
}

func newFakeBrowser() *fakeBrowser {
	return &fakeBrowser{bindings: map[string]interface{}{}, done: make(chan struct{})}
}

func (b *fakeBrowser) Load(url string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.loaded = append(b.loaded, url)
	return nil
}

func (b *fakeBrowser) Bind(name string, f interface{}) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bindings[name] = f
	return nil
}

func (b *fakeBrowser) Eval(js string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.scripts = append(b.scripts, js)
	if b.result != nil {
		return b.result(js), nil
	}
	return true, nil
}

func (b *fakeBrowser) Restore() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.restored++
	return nil
}

func (b *fakeBrowser) Done() <-chan struct{} { return b.done }

func (b *fakeBrowser) Close() error {
	b.closed.Do(func() { close(b.done) })
	return nil
}

func (b *fakeBrowser) evaluated() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.scripts...)
}

func newTestHost(b *fakeBrowser) *Lorca {
	h := NewLorca(LorcaOptions{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	h.open = func(url, dir string, width, height int, args ...string) (browser, error) {
		return b, nil
	}
	return h
}

var testMenu = []MenuItem{
	{ID: "quit", Label: "Quit", Accelerator: "CmdOrCtrl+Q"},
	{ID: "zoom_in", Label: "Zoom In", Accelerator: "CmdOrCtrl+="},
	{ID: "about", Label: "About"},
}

func TestParseAccelerator(t *testing.T) {
	tests := []struct {
		in   string
		want Accelerator
	}{
		{"CmdOrCtrl+Q", Accelerator{CmdOrCtrl: true, Key: "q"}},
		{"CmdOrCtrl+=", Accelerator{CmdOrCtrl: true, Key: "="}},
		{"CmdOrCtrl+-", Accelerator{CmdOrCtrl: true, Key: "-"}},
		{"CmdOrCtrl++", Accelerator{CmdOrCtrl: true, Key: "+"}},
		{"CmdOrCtrl+Shift+Alt+Z", Accelerator{CmdOrCtrl: true, Shift: true, Alt: true, Key: "z"}},
		{"F11", Accelerator{Key: "F11"}},
	}
	for _, tt := range tests {
		got, err := ParseAccelerator(tt.in)
		if err != nil {
			t.Errorf("ParseAccelerator(%q) returned error: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseAccelerator(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
	}

	for _, bad := range []string{"", "CmdOrCtrl+", "Hyper+Q"} {
		if _, err := ParseAccelerator(bad); err == nil {
			t.Errorf("ParseAccelerator(%q) should fail", bad)
		}
	}
}

func TestShortcutScript(t *testing.T) {
	script, err := shortcutScript(testMenu)
	if err != nil {
		t.Fatalf("shortcutScript returned error: %v", err)
	}
	for _, want := range []string{`"id":"quit"`, `"key":"q"`, `"id":"zoom_in"`, `"key":"="`, "window." + MenuBinding + "(s.id)"} {
		if !strings.Contains(script, want) {
			t.Errorf("script does not contain %s", want)
		}
	}
	if strings.Contains(script, `"id":"about"`) {
		t.Error("item without accelerator should not get a shortcut")
	}

	empty, err := shortcutScript([]MenuItem{{ID: "about"}})
	if err != nil || empty != "" {
		t.Errorf("shortcutScript without accelerators = (%q, %v), want empty", empty, err)
	}
}

func TestCreateWindowNavigateShow(t *testing.T) {
	b := newFakeBrowser()
	h := newTestHost(b)

	if err := h.RegisterMenu(testMenu, func(string) {}); err != nil {
		t.Fatalf("RegisterMenu returned error: %v", err)
	}
	w, err := h.CreateWindow(WindowOptions{ID: "main", Title: "ClientATS", Width: 1200, Height: 800})
	if err != nil {
		t.Fatalf("CreateWindow returned error: %v", err)
	}
	if err := w.Navigate("http://127.0.0.1:4000"); err != nil {
		t.Fatalf("Navigate returned error: %v", err)
	}
	if err := w.Show(); err != nil {
		t.Fatalf("Show returned error: %v", err)
	}

	if len(b.loaded) != 1 || b.loaded[0] != "http://127.0.0.1:4000" {
		t.Errorf("loaded = %v", b.loaded)
	}
	if b.restored != 1 {
		t.Errorf("restored %d times, want 1", b.restored)
	}
	joined := strings.Join(b.evaluated(), "\n")
	if !strings.Contains(joined, `document.title="ClientATS"`) {
		t.Error("title script was not evaluated")
	}
	if !strings.Contains(joined, "__deskshellShortcuts") {
		t.Error("shortcut script was not evaluated")
	}

	if _, err := h.CreateWindow(WindowOptions{ID: "second"}); !errors.Is(err, ErrWindowExists) {
		t.Errorf("second CreateWindow error = %v, want ErrWindowExists", err)
	}
}

func TestFullPageLoadReinstallsShortcuts(t *testing.T) {
	b := newFakeBrowser()
	h := newTestHost(b)
	h.watch = 10 * time.Millisecond
	defer h.Exit()

	var mu sync.Mutex
	reloaded := false
	b.result = func(js string) bool {
		mu.Lock()
		defer mu.Unlock()
		if js == shortcutsInstalled && reloaded {
			reloaded = false
			return false
		}
		return true
	}

	if err := h.RegisterMenu(testMenu, func(string) {}); err != nil {
		t.Fatalf("RegisterMenu returned error: %v", err)
	}
	w, err := h.CreateWindow(WindowOptions{ID: "main", Title: "ClientATS"})
	if err != nil {
		t.Fatalf("CreateWindow returned error: %v", err)
	}
	if err := w.Navigate("http://127.0.0.1:4000"); err != nil {
		t.Fatalf("Navigate returned error: %v", err)
	}

	installs := func() (shortcuts, titles int) {
		for _, js := range b.evaluated() {
			if strings.Contains(js, "window.__deskshellShortcuts=") {
				shortcuts++
			}
			if strings.Contains(js, "document.title=") {
				titles++
			}
		}
		return shortcuts, titles
	}
	if n, _ := installs(); n != 1 {
		t.Fatalf("shortcuts installed %d times after Navigate, want 1", n)
	}

	mu.Lock()
	reloaded = true
	mu.Unlock()

	deadline := time.Now().Add(2 * time.Second)
	for {
		shortcuts, titles := installs()
		if shortcuts == 2 && titles == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("after reload: shortcuts installed %d times, title set %d times, want 2 each", shortcuts, titles)
		}
		time.Sleep(10 * time.Millisecond)
	}

	time.Sleep(50 * time.Millisecond)
	if n, _ := installs(); n != 2 {
		t.Errorf("shortcuts installed %d times while the page was unchanged, want 2", n)
	}
}

func TestMenuBindingDispatches(t *testing.T) {
	b := newFakeBrowser()
	h := newTestHost(b)

	selected := make(chan string, 1)
	h.RegisterMenu(testMenu, func(id string) { selected <- id })
	if _, err := h.CreateWindow(WindowOptions{ID: "main"}); err != nil {
		t.Fatalf("CreateWindow returned error: %v", err)
	}

	fn, ok := b.bindings[MenuBinding].(func(string))
	if !ok {
		t.Fatalf("binding %s not registered as func(string)", MenuBinding)
	}
	fn("zoom_in")

	if got := <-selected; got != "zoom_in" {
		t.Errorf("selected = %s, want zoom_in", got)
	}
}

func TestClosingWindowExitsHost(t *testing.T) {
	b := newFakeBrowser()
	h := newTestHost(b)

	w, err := h.CreateWindow(WindowOptions{ID: "main"})
	if err != nil {
		t.Fatalf("CreateWindow returned error: %v", err)
	}
	w.Close()

	select {
	case <-h.Done():
	case <-time.After(time.Second):
		t.Fatal("host did not exit after its window closed")
	}
}

func TestExitIsIdempotent(t *testing.T) {
	b := newFakeBrowser()
	h := newTestHost(b)
	if _, err := h.CreateWindow(WindowOptions{ID: "main"}); err != nil {
		t.Fatalf("CreateWindow returned error: %v", err)
	}

	h.Exit()
	h.Exit()

	select {
	case <-h.Done():
	default:
		t.Fatal("Done not closed after Exit")
	}
	select {
	case <-b.done:
	default:
		t.Error("window not closed on Exit")
	}
	if _, err := h.CreateWindow(WindowOptions{ID: "main"}); !errors.Is(err, ErrNoWindow) {
		t.Errorf("CreateWindow after Exit error = %v, want ErrNoWindow", err)
	}
}

func TestRegisterMenuRejectsBadAccelerator(t *testing.T) {
	h := newTestHost(newFakeBrowser())
	err := h.RegisterMenu([]MenuItem{{ID: "x", Accelerator: "Hyper+X"}}, func(string) {})
	if err == nil {
		t.Error("RegisterMenu should reject an unknown modifier")
	}
}
