package language

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
)

// Step is one command given as an argument list, never a shell string
type Step struct {
	Args []string
	// OnlyIf names a file relative to the project root that must exist
	// for the step to run.
	OnlyIf string
}

func (s Step) String() string {
	return fmt.Sprint(s.Args)
}

// Display renders the argument list the way a shell user would type it
func (s Step) Display() string {
	return strings.Join(s.Args, " ")
}

// Applies reports whether the step's OnlyIf condition holds under root
func (s Step) Applies(root string) bool {
	if s.OnlyIf == "" {
		return true
	}
	_, err := os.Stat(filepath.Join(root, s.OnlyIf))
	return err == nil
}

// Pattern extracts failure locations. Group indexes are 1-based; 0 means the
// pattern has no such group.
type Pattern struct {
	Regexp *regexp.Regexp
	File   int
	Line   int
	Column int
}

// Profile is the command set and error rule for one language
type Profile struct {
	Language     Language
	MarkerFiles  []string
	Extensions   []string
	InstallSteps []Step
	TestSteps    []Step
	Patterns     []Pattern
}

// Runnable reports whether the profile has anything to test with
func (p Profile) Runnable() bool {
	return p.Language != Unknown && len(p.TestSteps) > 0
}

func cmd(args ...string) Step { return Step{Args: args} }

func pat(expr string, file, line, col int) Pattern {
	return Pattern{Regexp: regexp.MustCompile(expr), File: file, Line: line, Column: col}
}

func builtin() map[Language]Profile {
	return map[Language]Profile{
		Python: {
			Language:     Python,
			MarkerFiles:  []string{"requirements.txt", "pyproject.toml", "setup.py"},
			Extensions:   []string{".py"},
			InstallSteps: []Step{{Args: []string{"pip", "install", "-r", "requirements.txt"}, OnlyIf: "requirements.txt"}},
			TestSteps:    []Step{cmd("python", "-m", "pytest", "--tb=native", "-q")},
			Patterns: []Pattern{
				pat(`File "(.+?)", line (\d+)`, 1, 2, 0),
				pat(`(?m)^(\S+?\.py):(\d+): `, 1, 2, 0),
			},
		},
		Node: {
			Language:     Node,
			MarkerFiles:  []string{"package.json"},
			Extensions:   []string{".js", ".ts", ".jsx", ".tsx", ".mjs"},
			InstallSteps: []Step{cmd("npm", "install")},
			TestSteps:    []Step{cmd("npm", "test")},
			Patterns:     []Pattern{pat(`at (?:.*?\()?([^\s()]+?):(\d+):(\d+)`, 1, 2, 3)},
		},
		JavaMaven: {
			Language:    JavaMaven,
			MarkerFiles: []string{"pom.xml"},
			Extensions:  []string{".java"},
			TestSteps:   []Step{cmd("mvn", "-q", "-B", "test")},
			Patterns:    []Pattern{pat(`(\S+?\.java):\[(\d+),(\d+)\]`, 1, 2, 3)},
		},
		JavaGradle: {
			Language:    JavaGradle,
			MarkerFiles: []string{"build.gradle", "build.gradle.kts"},
			TestSteps:   []Step{cmd("gradle", "test", "--console=plain")},
			Patterns:    []Pattern{pat(`(\S+?\.(?:java|kt)):(\d+): error`, 1, 2, 0)},
		},
		Go: {
			Language:     Go,
			MarkerFiles:  []string{"go.mod"},
			Extensions:   []string{".go"},
			InstallSteps: []Step{cmd("go", "mod", "download")},
			TestSteps:    []Step{cmd("go", "test", "./...")},
			Patterns:     []Pattern{pat(`(\S+?\.go):(\d+):(?:(\d+):)?`, 1, 2, 3)},
		},
		CSharp: {
			Language:     CSharp,
			Extensions:   []string{".csproj", ".sln", ".cs"},
			InstallSteps: []Step{cmd("dotnet", "restore")},
			TestSteps:    []Step{cmd("dotnet", "test")},
			Patterns:     []Pattern{pat(`(\S+?)\((\d+),(\d+)\): error`, 1, 2, 3)},
		},
		Cpp: {
			Language:    Cpp,
			MarkerFiles: []string{"Makefile", "CMakeLists.txt"},
			Extensions:  []string{".cpp", ".cc", ".c", ".hpp", ".h"},
			TestSteps:   []Step{cmd("make", "test")},
			Patterns:    []Pattern{pat(`(\S+?):(\d+):(\d+): (?:fatal )?error`, 1, 2, 3)},
		},
		Rust: {
			Language:    Rust,
			MarkerFiles: []string{"Cargo.toml"},
			Extensions:  []string{".rs"},
			TestSteps:   []Step{cmd("cargo", "test")},
			Patterns:    []Pattern{pat(`--> (\S+?):(\d+):(\d+)`, 1, 2, 3)},
		},
		PHP: {
			Language:     PHP,
			MarkerFiles:  []string{"composer.json"},
			Extensions:   []string{".php"},
			InstallSteps: []Step{cmd("composer", "install", "--no-interaction")},
			TestSteps:    []Step{cmd("vendor/bin/phpunit")},
			Patterns: []Pattern{
				pat(`in (\S+?\.php) on line (\d+)`, 1, 2, 0),
				pat(`(\S+?\.php):(\d+)`, 1, 2, 0),
			},
		},
		Ruby: {
			Language:     Ruby,
			MarkerFiles:  []string{"Gemfile"},
			Extensions:   []string{".rb"},
			InstallSteps: []Step{cmd("bundle", "install")},
			TestSteps:    []Step{cmd("bundle", "exec", "rspec")},
			Patterns:     []Pattern{pat(`(\S+?\.rb):(\d+)`, 1, 2, 0)},
		},
		Unknown: {Language: Unknown},
	}
}

// Registry resolves profiles and holds per-language command overrides
type Registry struct {
	mu       sync.RWMutex
	profiles map[Language]Profile
}

// NewRegistry returns a registry with the built-in profiles
func NewRegistry() *Registry {
	return &Registry{profiles: builtin()}
}

var (
	defaultRegistry     *Registry
	defaultRegistryOnce sync.Once
)

// Default returns the shared registry with built-in profiles
func Default() *Registry {
	defaultRegistryOnce.Do(func() {
		defaultRegistry = NewRegistry()
	})
	return defaultRegistry
}

// Profile returns the profile for l; unknown languages get an empty profile
func (r *Registry) Profile(l Language) Profile {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if p, ok := r.profiles[l]; ok {
		return p
	}
	return Profile{Language: Unknown}
}

// Override replaces the install and/or test steps of l. Nil slices keep the
// built-in steps.
func (r *Registry) Override(l Language, install, test [][]string) error {
	if l == Unknown {
		return fmt.Errorf("cannot override steps of the unknown language")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	p := r.profiles[l]
	if install != nil {
		p.InstallSteps = toSteps(install)
	}
	if test != nil {
		p.TestSteps = toSteps(test)
	}
	r.profiles[l] = p
	return nil
}

func toSteps(argvs [][]string) []Step {
	steps := make([]Step, 0, len(argvs))
	for _, a := range argvs {
		if len(a) > 0 {
			steps = append(steps, Step{Args: append([]string(nil), a...)})
		}
	}
	return steps
}
