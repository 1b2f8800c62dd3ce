package testutil

import (
	"maps"
	"slices"
	"testing"

	"golang.org/x/tools/go/packages"
)

// AssertPackageImports loads the packages matching pattern, test variants
// included, and fails if a package that exempt does not match imports a path
// satisfying forbidden. A nil exempt checks every package.
func AssertPackageImports(t testing.TB, pattern string, exempt, forbidden ImportPredicate, reason string) {
	t.Helper()
	cfg := &packages.Config{Mode: packages.NeedName | packages.NeedImports, Tests: true}
	pkgs, err := packages.Load(cfg, pattern)
	if err != nil {
		t.Fatalf("load %s: %v", pattern, err)
	}
	if len(pkgs) == 0 {
		t.Fatalf("no packages match %s", pattern)
	}
	for _, pkg := range pkgs {
		for _, e := range pkg.Errors {
			t.Fatalf("load %s: %v", pkg.PkgPath, e)
		}
	}
	failIfViolations(t, reason, packageImportViolations(pkgs, exempt, forbidden))
}

func packageImportViolations(pkgs []*packages.Package, exempt, forbidden ImportPredicate) []string {
	seen := make(map[string]struct{})
	for _, pkg := range pkgs {
		if exempt != nil && exempt(pkg.PkgPath) {
			continue
		}
		for ip := range pkg.Imports {
			if forbidden(ip) {
				seen[pkg.PkgPath+" imports "+ip] = struct{}{}
			}
		}
	}
	return slices.Sorted(maps.Keys(seen))
}
