package extractor

import (
	"strings"

	"github.com/hochfrequenz/heal-orchestrator/internal/domain"
)

var keywordTypes = []struct {
	keywords []string
	bug      domain.BugType
}{
	{[]string{"indentationerror", "unexpected indent", "unindent does not match", "taberror"}, domain.BugIndentation},
	{[]string{"syntaxerror", "syntax error", "parse error", "unexpected token", "expected ';'", "expected expression"}, domain.BugSyntax},
	{[]string{"importerror", "modulenotfounderror", "cannot find module", "cannot find package", "no required module",
		"unresolved import", "could not be resolved", "package does not exist", "undefined: "}, domain.BugImport},
	{[]string{"typeerror", "type mismatch", "cannot use", "incompatible types", "mismatched types", "is not assignable"}, domain.BugTypeError},
	{[]string{"flake8", "eslint", "pylint", "golint", "rubocop", "lint"}, domain.BugLinting},
}

// Classify guesses the bug category of a failure message by keyword.
// Anything unrecognised is LOGIC.
func Classify(message string) domain.BugType {
	m := strings.ToLower(message)
	for _, kt := range keywordTypes {
		for _, k := range kt.keywords {
			if strings.Contains(m, k) {
				return kt.bug
			}
		}
	}
	return domain.BugLogic
}
