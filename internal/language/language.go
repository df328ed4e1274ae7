// Package language maps project ecosystems to the install/test commands and
// error patterns the universal runner uses.
package language

import "strings"

// Language enumerates the supported ecosystems
type Language int

const (
	Unknown Language = iota
	Python
	Node
	JavaMaven
	JavaGradle
	Go
	CSharp
	Cpp
	Rust
	PHP
	Ruby
)

var names = map[Language]string{
	Unknown:    "unknown",
	Python:     "python",
	Node:       "node",
	JavaMaven:  "java_maven",
	JavaGradle: "java_gradle",
	Go:         "go",
	CSharp:     "csharp",
	Cpp:        "cpp",
	Rust:       "rust",
	PHP:        "php",
	Ruby:       "ruby",
}

func (l Language) String() string {
	if n, ok := names[l]; ok {
		return n
	}
	return "unknown"
}

// Parse returns the Language named s, or Unknown
func Parse(s string) Language {
	s = strings.ToLower(strings.TrimSpace(s))
	for l, n := range names {
		if n == s {
			return l
		}
	}
	switch s {
	case "javascript", "typescript", "js", "ts":
		return Node
	case "java":
		return JavaMaven
	case "c", "c++":
		return Cpp
	case "c#", "dotnet":
		return CSharp
	case "golang":
		return Go
	}
	return Unknown
}

// All lists every known language except Unknown, in detection priority
func All() []Language {
	return []Language{JavaMaven, JavaGradle, Node, Go, Rust, Python, PHP, Ruby, CSharp, Cpp}
}
