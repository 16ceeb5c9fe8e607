package sandbox

import (
	"regexp"
	"strings"
)

var (
	importLine  = regexp.MustCompile(`^\s*import\s+[^(]`)
	fromImport  = regexp.MustCompile(`^\s*from\s+\S+\s+import\s+`)
	requireLine = regexp.MustCompile(`\brequire\s*\(\s*['"][^'"]*['"]\s*\)`)
)

// StripImports drops module-loading lines. The VM has no loader, and models
// routinely emit them anyway.
func StripImports(code string) string {
	lines := strings.Split(code, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if importLine.MatchString(line) || fromImport.MatchString(line) || requireLine.MatchString(line) {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}

var topLevelDecl = regexp.MustCompile(`(?m)^(?:const|let|var)\s+([A-Za-z_$][A-Za-z0-9_$]*)`)

// topLevelNames returns the names declared at column zero, in source order.
func topLevelNames(code string) []string {
	seen := map[string]bool{}
	var names []string
	for _, m := range topLevelDecl.FindAllStringSubmatch(code, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			names = append(names, m[1])
		}
	}
	return names
}
