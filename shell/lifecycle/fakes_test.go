package lifecycle

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tomyedwab/deskshell/shell/config"
	"github.com/tomyedwab/deskshell/shell/host"
	"github.com/tomyedwab/deskshell/shell/journal"
	"github.com/tomyedwab/deskshell/shell/paths"
	"github.com/tomyedwab/deskshell/shell/processes"
)

// syncBuffer collects log output written from several goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func testLogger(out *syncBuffer) *slog.Logger {
	return slog.New(slog.NewTextHandler(out, nil))
}

type fakeWindow struct {
	mu          sync.Mutex
	navigations []string
	shown       int
	scripts     []string
	closed      int
}

func (w *fakeWindow) Navigate(url string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.navigations = append(w.navigations, url)
	return nil
}

func (w *fakeWindow) Show() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.shown++
	return nil
}

func (w *fakeWindow) Eval(script string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.scripts = append(w.scripts, script)
	return nil
}

func (w *fakeWindow) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed++
	return nil
}

func (w *fakeWindow) lastScript() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.scripts) == 0 {
		return ""
	}
	return w.scripts[len(w.scripts)-1]
}

type fakeHost struct {
	mu        sync.Mutex
	windows   []host.WindowOptions
	window    *fakeWindow
	createErr error
	menu      []host.MenuItem
	onSelect  func(id string)
	exits     atomic.Int32
	done      chan struct{}
	doneOnce  sync.Once
}

func newFakeHost() *fakeHost {
	return &fakeHost{window: &fakeWindow{}, done: make(chan struct{})}
}

func (h *fakeHost) CreateWindow(opts host.WindowOptions) (host.Window, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.createErr != nil {
		return nil, h.createErr
	}
	h.windows = append(h.windows, opts)
	return h.window, nil
}

func (h *fakeHost) RegisterMenu(items []host.MenuItem, onSelect func(id string)) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.menu = items
	h.onSelect = onSelect
	return nil
}

func (h *fakeHost) Exit() {
	h.exits.Add(1)
	h.doneOnce.Do(func() { close(h.done) })
}

func (h *fakeHost) Done() <-chan struct{} { return h.done }

func (h *fakeHost) createdWindows() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.windows)
}

func (h *fakeHost) selectMenu(id string) {
	h.mu.Lock()
	onSelect := h.onSelect
	h.mu.Unlock()
	onSelect(id)
}

// fakeBackend stands in for a spawned server. It optionally listens on the port it
// was given after a delay.
type fakeBackend struct {
	pid          int
	terminated   atomic.Int32
	terminateErr error
	done         chan struct{}
	doneOnce     sync.Once

	mu       sync.Mutex
	listener net.Listener
}

func (b *fakeBackend) Pid() int              { return b.pid }
func (b *fakeBackend) Done() <-chan struct{} { return b.done }
func (b *fakeBackend) ExitErr() error        { return nil }
func (b *fakeBackend) RecentOutput(n int) []string {
	return []string{"[info] Running ClientatsWeb.Endpoint"}
}
func (b *fakeBackend) Uptime() time.Duration { return time.Second }

func (b *fakeBackend) Terminate() error {
	b.terminated.Add(1)
	if b.terminateErr != nil {
		return b.terminateErr
	}
	b.exit()
	return nil
}

func (b *fakeBackend) exit() {
	b.doneOnce.Do(func() {
		b.mu.Lock()
		if b.listener != nil {
			b.listener.Close()
		}
		b.mu.Unlock()
		close(b.done)
	})
}

type fakeLauncher struct {
	listenAfter time.Duration // Negative never listens
	spawnErr    error
	signalErr   error  // Returned by the spawned backend's Terminate
	onSpawn     func() // Runs after the backend is created, outside the lock

	mu      sync.Mutex
	specs   []processes.LaunchSpec
	backend *fakeBackend
}

func (l *fakeLauncher) Spawn(spec processes.LaunchSpec) (processes.Process, error) {
	b, err := l.spawn(spec)
	if err == nil && l.onSpawn != nil {
		l.onSpawn()
	}
	return b, err
}

func (l *fakeLauncher) spawn(spec processes.LaunchSpec) (*fakeBackend, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.specs = append(l.specs, spec)
	if l.spawnErr != nil {
		return nil, l.spawnErr
	}

	b := &fakeBackend{pid: 4242, done: make(chan struct{}), terminateErr: l.signalErr}
	l.backend = b
	if l.listenAfter >= 0 {
		port, _ := strconv.Atoi(spec.Env["PORT"])
		go func() {
			time.Sleep(l.listenAfter)
			ln, err := net.Listen("tcp", processes.NewEndpoint(port).Address())
			if err != nil {
				return
			}
			b.mu.Lock()
			b.listener = ln
			b.mu.Unlock()
			select {
			case <-b.done:
				ln.Close()
			default:
			}
		}()
	}
	return b, nil
}

func (l *fakeLauncher) lastBackend() *fakeBackend {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.backend
}

func (l *fakeLauncher) spawned() []processes.LaunchSpec {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]processes.LaunchSpec(nil), l.specs...)
}

// fakeMigrator returns outcome. With a gate set it blocks until the gate closes or ctx
// is cancelled, closing entered once it starts waiting.
type fakeMigrator struct {
	outcome processes.MigrationOutcome
	calls   atomic.Int32
	env     map[string]string

	gate        chan struct{}
	entered     chan struct{}
	enteredOnce sync.Once
}

func (m *fakeMigrator) Run(ctx context.Context, executable string, env map[string]string) processes.MigrationOutcome {
	m.calls.Add(1)
	m.env = env
	if m.gate != nil {
		m.enteredOnce.Do(func() { close(m.entered) })
		select {
		case <-m.gate:
		case <-ctx.Done():
			return processes.MigrationOutcome{ExitCode: -1, Err: ctx.Err()}
		}
	}
	return m.outcome
}

// block makes the next Run wait until the returned function is called.
func (m *fakeMigrator) block() (release func()) {
	m.gate = make(chan struct{})
	m.entered = make(chan struct{})
	var once sync.Once
	return func() { once.Do(func() { close(m.gate) }) }
}

type recordedEvent struct {
	eventType journal.EventType
	state     string
	detail    string
}

type fakeRecorder struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (r *fakeRecorder) Record(eventType journal.EventType, state, detail string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{eventType, state, detail})
	return nil
}

func (r *fakeRecorder) count(eventType journal.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.eventType == eventType {
			n++
		}
	}
	return n
}

func (r *fakeRecorder) states() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var states []string
	for _, e := range r.events {
		if e.eventType == journal.EventStateChange {
			states = append(states, e.state)
		}
	}
	return states
}

type fixture struct {
	cfg      *config.Config
	layout   paths.Layout
	host     *fakeHost
	launcher *fakeLauncher
	migrator *fakeMigrator
	recorder *fakeRecorder
	logs     *syncBuffer
}

func newFixture(t *testing.T, mode string) *fixture {
	t.Helper()
	cfg := config.Default(mode)
	cfg.Backend.Port = 0
	cfg.Backend.Name = "clientats"
	cfg.Backend.DBFile = "clientats.db"
	cfg.Backend.StartupTimeout = 5 * time.Second
	cfg.Backend.ProbeInterval = 50 * time.Millisecond

	root := t.TempDir()
	return &fixture{
		cfg: cfg,
		layout: paths.Layout{
			ResourceDir: root,
			Executable:  filepath.Join(root, "phoenix", "bin", "clientats"),
			ConfigDir:   filepath.Join(root, "config", "clientats"),
		},
		host:     newFakeHost(),
		launcher: &fakeLauncher{listenAfter: 100 * time.Millisecond},
		migrator: &fakeMigrator{outcome: processes.MigrationOutcome{Succeeded: true}},
		recorder: &fakeRecorder{},
		logs:     &syncBuffer{},
	}
}

func (f *fixture) coordinator(t *testing.T) *Coordinator {
	t.Helper()
	c, err := NewCoordinator(f.cfg, f.layout, Deps{
		Host:     f.host,
		Launcher: f.launcher,
		Migrator: f.migrator,
		Journal:  f.recorder,
		Logger:   testLogger(f.logs),
	})
	if err != nil {
		t.Fatalf("NewCoordinator returned error: %v", err)
	}
	return c
}

// freePort returns a loopback port that was free a moment ago.
func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func isWindowError(err error) bool {
	var werr *WindowError
	return errors.As(err, &werr)
}
