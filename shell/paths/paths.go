// Package paths computes where the backend executable lives and where its data goes.
//
// Platform differences are captured in a single table keyed by OS variant; nothing in
// this package branches on runtime.GOOS directly.
package paths

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

var (
	// ErrHomeDirectoryUnavailable means neither the primary nor the fallback home variable is set.
	ErrHomeDirectoryUnavailable = errors.New("paths: home directory unavailable")
	// ErrResourceDirectoryUnavailable means the packaged resources could not be located.
	ErrResourceDirectoryUnavailable = errors.New("paths: resource directory unavailable")
)

// OS is the platform variant that drives path rules.
type OS int

const (
	// Other covers Linux and the remaining Unix-like systems.
	Other OS = iota
	// Darwin is macOS, where resources live inside the app bundle.
	Darwin
	// Windows launches the backend through its .bat wrapper.
	Windows
)

func (o OS) String() string {
	switch o {
	case Darwin:
		return "darwin"
	case Windows:
		return "windows"
	default:
		return "other"
	}
}

// Identify maps a GOOS value onto a platform variant.
func Identify(goos string) OS {
	switch goos {
	case "darwin":
		return Darwin
	case "windows":
		return Windows
	default:
		return Other
	}
}

type platform struct {
	executableSuffix string
	// resourceDir is relative to the directory holding the shell binary.
	resourceDir string
	configRoot  func(getenv func(string) string) (string, error)
}

var platforms = map[OS]platform{
	Darwin: {
		executableSuffix: "",
		resourceDir:      filepath.Join("..", "Resources"),
		configRoot:       homeRelative("Library", "Application Support"),
	},
	Windows: {
		executableSuffix: ".bat",
		resourceDir:      ".",
		configRoot:       appData,
	},
	Other: {
		executableSuffix: "",
		resourceDir:      ".",
		configRoot:       homeRelative(".config"),
	},
}

func homeDir(getenv func(string) string) (string, error) {
	if home := getenv("HOME"); home != "" {
		return home, nil
	}
	if home := getenv("USERPROFILE"); home != "" {
		return home, nil
	}
	return "", ErrHomeDirectoryUnavailable
}

func homeRelative(elem ...string) func(func(string) string) (string, error) {
	return func(getenv func(string) string) (string, error) {
		home, err := homeDir(getenv)
		if err != nil {
			return "", err
		}
		return filepath.Join(append([]string{home}, elem...)...), nil
	}
}

func appData(getenv func(string) string) (string, error) {
	if dir := getenv("APPDATA"); dir != "" {
		return dir, nil
	}
	if profile := getenv("USERPROFILE"); profile != "" {
		return filepath.Join(profile, "AppData", "Roaming"), nil
	}
	return "", ErrHomeDirectoryUnavailable
}

// Resolver computes a Layout. Zero-valued function fields fall back to the real process
// environment.
type Resolver struct {
	GOOS        string                 // Optional, defaults to runtime.GOOS
	Getenv      func(string) string    // Optional, defaults to os.Getenv
	Executable  func() (string, error) // Optional, defaults to os.Executable
	AppName     string
	BackendDir  string // Directory under the resources holding bin/<name>
	BackendName string // Defaults to AppName
	ResourceDir string // Optional override
	ConfigDir   string // Optional override
}

// Layout is the resolved set of locations for one run.
type Layout struct {
	OS          OS
	ResourceDir string
	Executable  string
	ConfigDir   string
}

// Resolve computes the layout. It only reads environment variables and the path of the
// running binary.
func (r Resolver) Resolve() (Layout, error) {
	goos := r.GOOS
	if goos == "" {
		goos = runtime.GOOS
	}
	getenv := r.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	executable := r.Executable
	if executable == nil {
		executable = os.Executable
	}
	if r.AppName == "" {
		return Layout{}, fmt.Errorf("paths: app name is required")
	}

	variant := Identify(goos)
	rules := platforms[variant]

	configDir := r.ConfigDir
	if configDir == "" {
		root, err := rules.configRoot(getenv)
		if err != nil {
			return Layout{}, err
		}
		configDir = filepath.Join(root, r.AppName)
	}

	resourceDir := r.ResourceDir
	if resourceDir == "" {
		exe, err := executable()
		if err != nil {
			return Layout{}, fmt.Errorf("%w: %v", ErrResourceDirectoryUnavailable, err)
		}
		resourceDir = filepath.Clean(filepath.Join(filepath.Dir(exe), rules.resourceDir))
	}

	name := r.BackendName
	if name == "" {
		name = r.AppName
	}

	return Layout{
		OS:          variant,
		ResourceDir: resourceDir,
		Executable:  filepath.Join(resourceDir, r.BackendDir, "bin", name+rules.executableSuffix),
		ConfigDir:   configDir,
	}, nil
}

// RuntimeDirectories returns the directories the backend writes into.
func (l Layout) RuntimeDirectories() RuntimeDirectories {
	return RuntimeDirectories{
		ConfigDir: l.ConfigDir,
		DBDir:     filepath.Join(l.ConfigDir, "db"),
		UploadDir: filepath.Join(l.ConfigDir, "uploads"),
	}
}
