// Package testutil provides helpers that keep the wildtrack package layers
// honest: storage adapters stay below the registry, the registry stays below
// the service, and nothing below the CLI reaches up into it.
package testutil

import (
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"testing"
)

// Module is the wildtrack module path.
const Module = "wildtrack"

// ImportPredicate reports whether an import path is forbidden.
type ImportPredicate func(importPath string) bool

// Forbid matches the given wildtrack packages and their subpackages. Paths
// are relative to the module root, e.g. "internal/core".
func Forbid(rel ...string) ImportPredicate {
	return func(importPath string) bool {
		for _, r := range rel {
			p := Module + "/" + strings.Trim(r, "/")
			if importPath == p || strings.HasPrefix(importPath, p+"/") {
				return true
			}
		}
		return false
	}
}

// AnyOf matches when any of preds matches.
func AnyOf(preds ...ImportPredicate) ImportPredicate {
	return func(importPath string) bool {
		for _, p := range preds {
			if p(importPath) {
				return true
			}
		}
		return false
	}
}

// InternalImport matches any wildtrack internal package.
func InternalImport(importPath string) bool {
	return Forbid("internal")(importPath)
}

// ModuleImport matches any wildtrack package.
func ModuleImport(importPath string) bool {
	return importPath == Module || strings.HasPrefix(importPath, Module+"/")
}

// ThirdPartyImport matches imports outside the standard library and module.
func ThirdPartyImport(importPath string) bool {
	first, _, _ := strings.Cut(importPath, "/")
	return strings.Contains(first, ".")
}

// AssertNoDirectImports parses the non-test .go files in dir and fails if any
// import satisfies forbidden. Build tags are not evaluated.
func AssertNoDirectImports(t testing.TB, dir string, forbidden ImportPredicate, reason string) {
	t.Helper()
	viols, err := directImportViolations(dir, forbidden)
	if err != nil {
		t.Fatalf("scan %s: %v", dir, err)
	}
	failIfViolations(t, reason, viols)
}

func directImportViolations(dir string, forbidden ImportPredicate) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	fset := token.NewFileSet()
	var viols []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".go") || strings.HasSuffix(name, "_test.go") {
			continue
		}
		file, err := parser.ParseFile(fset, filepath.Join(dir, name), nil, parser.ImportsOnly)
		if err != nil {
			return nil, err
		}
		for _, imp := range file.Imports {
			ip, err := strconv.Unquote(imp.Path.Value)
			if err != nil {
				return nil, err
			}
			if forbidden(ip) {
				viols = append(viols, ip+" (in "+name+")")
			}
		}
	}
	sort.Strings(viols)
	return viols, nil
}

type fatalLogger interface {
	Fatalf(format string, args ...any)
}

func failIfViolations(t fatalLogger, reason string, viols []string) {
	if len(viols) > 0 {
		t.Fatalf("forbidden imports detected (%s):\n%s", reason, strings.Join(viols, "\n"))
	}
}
