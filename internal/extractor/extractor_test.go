package extractor

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/hochfrequenz/heal-orchestrator/internal/domain"
	"github.com/hochfrequenz/heal-orchestrator/internal/language"
)

func TestExtract(t *testing.T) {
	tests := []struct {
		name     string
		lang     language.Language
		logs     string
		wantFile string
		wantLine int
		wantCol  int
	}{
		{
			name: "python traceback",
			lang: language.Python,
			logs: "Traceback (most recent call last):\n  File \"app.py\", line 12, in <module>\n    x = 1/0\nZeroDivisionError: division by zero\n",
			wantFile: "app.py", wantLine: 12,
		},
		{
			name: "pytest short location",
			lang: language.Python,
			logs: "____ test_add ____\n\ntests/test_calc.py:7: AssertionError\n",
			wantFile: "tests/test_calc.py", wantLine: 7,
		},
		{
			name: "node stack",
			lang: language.Node,
			logs: "TypeError: x is not a function\n    at Object.<anonymous> (src/index.js:4:11)\n    at Module._compile (node:internal/modules/cjs/loader:1105:14)\n",
			wantFile: "src/index.js", wantLine: 4, wantCol: 11,
		},
		{
			name: "maven",
			lang: language.JavaMaven,
			logs: "[ERROR] src/main/java/App.java:[12,5] cannot find symbol\n",
			wantFile: "src/main/java/App.java", wantLine: 12, wantCol: 5,
		},
		{
			name: "gradle",
			lang: language.JavaGradle,
			logs: "src/main/java/App.java:9: error: ';' expected\n",
			wantFile: "src/main/java/App.java", wantLine: 9,
		},
		{
			name: "go vet",
			lang: language.Go,
			logs: "# example.com/app\n./internal/calc/calc.go:5:2: undefined: foo\n",
			wantFile: "internal/calc/calc.go", wantLine: 5, wantCol: 2,
		},
		{
			name: "go test failure",
			lang: language.Go,
			logs: "--- FAIL: TestAdd (0.00s)\n    calc_test.go:10: got 3, want 4\nFAIL\n",
			wantFile: "calc_test.go", wantLine: 10,
		},
		{
			name: "csharp",
			lang: language.CSharp,
			logs: "Program.cs(12,5): error CS1002: ; expected\n",
			wantFile: "Program.cs", wantLine: 12, wantCol: 5,
		},
		{
			name: "cpp",
			lang: language.Cpp,
			logs: "main.cpp:3:5: error: 'cout' was not declared\n",
			wantFile: "main.cpp", wantLine: 3, wantCol: 5,
		},
		{
			name: "rust",
			lang: language.Rust,
			logs: "error[E0425]: cannot find value `x`\n --> src/main.rs:2:5\n",
			wantFile: "src/main.rs", wantLine: 2, wantCol: 5,
		},
		{
			name: "php parse error",
			lang: language.PHP,
			logs: "PHP Parse error: syntax error, unexpected '}' in src/Calc.php on line 14\n",
			wantFile: "src/Calc.php", wantLine: 14,
		},
		{
			name: "rspec",
			lang: language.Ruby,
			logs: "Failure/Error: expect(x).to eq(2)\n# ./spec/calc_spec.rb:6:in `block (2 levels)'\n",
			wantFile: "spec/calc_spec.rb", wantLine: 6,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Extract(tt.logs, tt.lang)
			if len(got) == 0 {
				t.Fatalf("Extract() returned no records")
			}
			r := got[0]
			if r.File != tt.wantFile || r.Line != tt.wantLine || r.Column != tt.wantCol {
				t.Errorf("got %s:%d:%d, want %s:%d:%d", r.File, r.Line, r.Column, tt.wantFile, tt.wantLine, tt.wantCol)
			}
			if r.Message == "" {
				t.Error("message should not be empty")
			}
		})
	}
}

func TestExtract_EmptyOutcomes(t *testing.T) {
	tests := []struct {
		name string
		logs string
		lang language.Language
	}{
		{"unknown language", "File \"a.py\", line 3", language.Unknown},
		{"no match", "everything is fine", language.Python},
		{"empty logs", "", language.Go},
		{"binary garbage", "\x00\xff\xfe:\x01:(", language.Node},
		{"huge line number", "File \"a.py\", line 99999999999999999999999", language.Python},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Extract(tt.logs, tt.lang)
			if got == nil {
				t.Fatal("Extract() must return an empty slice, not nil")
			}
			if tt.name == "huge line number" {
				if len(got) != 1 || got[0].Line != 0 {
					t.Errorf("overflowing line should parse as 0, got %+v", got)
				}
				return
			}
			if len(got) != 0 {
				t.Errorf("Extract() = %+v, want empty", got)
			}
		})
	}
}

func TestExtract_OrderAndDedup(t *testing.T) {
	logs := strings.Join([]string{
		`tests/test_b.py:3: AssertionError`,
		`  File "app.py", line 12, in f`,
		`  File "/usr/lib/python3.11/site-packages/x.py", line 1, in g`,
		`  File "app.py", line 12, in f`,
	}, "\n")
	got := Extract(logs, language.Python)
	if len(got) != 2 {
		t.Fatalf("got %d records, want 2: %+v", len(got), got)
	}
	if got[0].File != "tests/test_b.py" || got[1].File != "app.py" {
		t.Errorf("records out of log order: %+v", got)
	}
}

func TestRelativize(t *testing.T) {
	recs := []domain.FailureRecord{
		{File: "/work/repo/src/app.py", Line: 1},
		{File: "src/util.py", Line: 2},
		{File: "/etc/passwd", Line: 3},
		{File: "../outside.py", Line: 4},
	}
	got := Relativize(recs, "/work/repo")
	if len(got) != 2 {
		t.Fatalf("got %+v, want 2 records", got)
	}
	if got[0].File != "src/app.py" || got[1].File != "src/util.py" {
		t.Errorf("unexpected files: %+v", got)
	}
}

func TestClassify(t *testing.T) {
	tests := map[string]domain.BugType{
		"SyntaxError: invalid syntax":              domain.BugSyntax,
		"IndentationError: unexpected indent":      domain.BugIndentation,
		"ModuleNotFoundError: No module named 'x'": domain.BugImport,
		"TypeError: unsupported operand":           domain.BugTypeError,
		"flake8: E501 line too long":               domain.BugLinting,
		"AssertionError: 3 != 4":                   domain.BugLogic,
	}
	for msg, want := range tests {
		if got := Classify(msg); got != want {
			t.Errorf("Classify(%q) = %q, want %q", msg, got, want)
		}
	}
}

func TestClip(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"abcdef", 3, "abc"},
		{"aä", 2, "a"},
		{"aä", 3, "aä"},
		{"日本", 4, "日"},
		{"日本", 2, ""},
	}
	for _, tt := range tests {
		if got := Clip(tt.in, tt.n); got != tt.want {
			t.Errorf("Clip(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}

func TestExtract_LongMultiByteMessage(t *testing.T) {
	// the 300-byte cut falls in the middle of a two-byte rune
	logs := "File \"app.py\", line 3\n" + "x" + strings.Repeat("é", 200) + "\n"
	got := Extract(logs, language.Python)
	if len(got) != 1 {
		t.Fatalf("Extract = %+v", got)
	}
	msg := got[0].Message
	if len(msg) > MaxMessageLen || !utf8.ValidString(msg) {
		t.Errorf("message len=%d valid=%v: %q", len(msg), utf8.ValidString(msg), msg)
	}
}
