package language

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// markerOrder is the fixed probe order for build manifests at the project root
var markerOrder = []struct {
	file string
	lang Language
}{
	{"pom.xml", JavaMaven},
	{"build.gradle", JavaGradle},
	{"build.gradle.kts", JavaGradle},
	{"package.json", Node},
	{"go.mod", Go},
	{"Cargo.toml", Rust},
	{"requirements.txt", Python},
	{"pyproject.toml", Python},
	{"setup.py", Python},
	{"composer.json", PHP},
	{"Gemfile", Ruby},
	{"CMakeLists.txt", Cpp},
	{"Makefile", Cpp},
}

// extensionOrder breaks ties in the extension census
var extensionOrder = []struct {
	exts []string
	lang Language
}{
	{[]string{".csproj", ".sln"}, CSharp},
	{[]string{".py"}, Python},
	{[]string{".js", ".ts"}, Node},
	{[]string{".go"}, Go},
	{[]string{".java"}, JavaMaven},
	{[]string{".cpp", ".c"}, Cpp},
	{[]string{".rs"}, Rust},
	{[]string{".php"}, PHP},
	{[]string{".rb"}, Ruby},
}

var skipDirs = map[string]bool{
	".git": true, "node_modules": true, "vendor": true, "target": true,
	"venv": true, ".venv": true, "__pycache__": true, "build": true, "dist": true,
}

// Detect identifies the language of the project at root: manifests first,
// then a project-file check for .NET, then a full-tree extension census.
func Detect(root string) Language {
	for _, m := range markerOrder {
		if fileExists(filepath.Join(root, m.file)) {
			return m.lang
		}
	}

	if matches, _ := filepath.Glob(filepath.Join(root, "*.csproj")); len(matches) > 0 {
		return CSharp
	}
	if matches, _ := filepath.Glob(filepath.Join(root, "*.sln")); len(matches) > 0 {
		return CSharp
	}

	return census(root)
}

func census(root string) Language {
	counts := make(map[Language]int)
	_ = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if p != root && skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		ext := strings.ToLower(filepath.Ext(d.Name()))
		for _, e := range extensionOrder {
			for _, x := range e.exts {
				if ext == x {
					counts[e.lang]++
				}
			}
		}
		return nil
	})

	best, bestN := Unknown, 0
	for _, e := range extensionOrder {
		if n := counts[e.lang]; n > bestN {
			best, bestN = e.lang, n
		}
	}
	return best
}

func fileExists(p string) bool {
	info, err := os.Stat(p)
	return err == nil && !info.IsDir()
}
