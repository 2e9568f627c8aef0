// Package testmap locates the JVM tests covering a class using the Maven
// directory convention alone: src/main/java/<pkg>/X.java is exercised by
// src/test/java/<pkg>/XTest.java (or XTests / XIT). No build tool or JVM is
// involved; mapping is filesystem lookups plus regexes over test sources.
package testmap

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"ariadne/internal/apperr"
	"ariadne/internal/logging"
)

// Conventional test-class suffixes, in lookup order.
var testSuffixes = []string{"Test", "Tests", "IT"}

var (
	// @Test in any of its spellings, annotation arguments included.
	annotatedTestRe = regexp.MustCompile(`(?m)@(?:org\.junit(?:\.jupiter\.api)?\.)?Test\b`)
	// JUnit3-style naming: public void testXxx(...).
	namedTestRe = regexp.MustCompile(`(?m)(?:public\s+)?void\s+(test\w+)\s*\(`)
	// Any method declaration following an annotation line, for @Test methods.
	annotatedMethodRe = regexp.MustCompile(`@(?:org\.junit(?:\.jupiter\.api)?\.)?Test\b[^{}]*?\bvoid\s+(\w+)\s*\(`)
)

// Mapper resolves classes to test files under one project root.
type Mapper struct {
	projectRoot string

	once      sync.Once
	testRoots []string
}

// New creates a mapper over a project checkout.
func New(projectRoot string) *Mapper {
	return &Mapper{projectRoot: projectRoot}
}

// TestsForClass returns the test files covering classFQN, relative to the
// project root. A class with no conventional test file returns nil.
func (m *Mapper) TestsForClass(classFQN string) []string {
	if m.projectRoot == "" || classFQN == "" {
		return nil
	}
	pkgPath, className := splitFQN(classFQN)
	if className == "" {
		return nil
	}

	var found []string
	for _, root := range m.roots() {
		for _, suffix := range testSuffixes {
			candidate := filepath.Join(root, pkgPath, className+suffix+".java")
			if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
				if rel, err := filepath.Rel(m.projectRoot, candidate); err == nil {
					found = append(found, filepath.ToSlash(rel))
				}
			}
		}
	}
	sort.Strings(found)
	return found
}

// TestMethods extracts test method names from one test source file:
// @Test-annotated methods plus public void test* methods.
func (m *Mapper) TestMethods(relPath string) ([]string, error) {
	data, err := os.ReadFile(filepath.Join(m.projectRoot, filepath.FromSlash(relPath)))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperr.New(apperr.KindNotFound, "test file %q not found", relPath)
		}
		return nil, apperr.Wrap(apperr.KindUnavailable, err, "read test file %s", relPath)
	}
	src := string(data)

	seen := map[string]struct{}{}
	var methods []string
	add := func(name string) {
		if _, ok := seen[name]; !ok {
			seen[name] = struct{}{}
			methods = append(methods, name)
		}
	}
	for _, match := range annotatedMethodRe.FindAllStringSubmatch(src, -1) {
		add(match[1])
	}
	for _, match := range namedTestRe.FindAllStringSubmatch(src, -1) {
		add(match[1])
	}
	sort.Strings(methods)
	return methods, nil
}

// IsTestFile reports whether a path looks like a test source by location and
// content.
func (m *Mapper) IsTestFile(relPath string) bool {
	slash := filepath.ToSlash(relPath)
	if !strings.Contains(slash, "src/test/java/") {
		return false
	}
	base := strings.TrimSuffix(filepath.Base(slash), ".java")
	for _, suffix := range testSuffixes {
		if strings.HasSuffix(base, suffix) {
			return true
		}
	}
	data, err := os.ReadFile(filepath.Join(m.projectRoot, filepath.FromSlash(relPath)))
	if err != nil {
		return false
	}
	return annotatedTestRe.Match(data)
}

// roots finds every src/test/java directory under the project root once.
func (m *Mapper) roots() []string {
	m.once.Do(func() {
		walkErr := filepath.WalkDir(m.projectRoot, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return nil // unreadable subtrees are skipped, not fatal
			}
			if !d.IsDir() {
				return nil
			}
			if strings.HasSuffix(filepath.ToSlash(path), "src/test/java") {
				m.testRoots = append(m.testRoots, path)
				return filepath.SkipDir
			}
			// Never descend into build output.
			switch d.Name() {
			case "target", "build", ".git":
				return filepath.SkipDir
			}
			return nil
		})
		if walkErr != nil {
			logging.Get(logging.CategoryIngestor).Warnw("test root scan failed", "error", walkErr)
		}
		sort.Strings(m.testRoots)
	})
	return m.testRoots
}

// splitFQN splits com.a.b.Order into (com/a/b, Order). Nested classes use
// their outer class's file.
func splitFQN(fqn string) (pkgPath, className string) {
	parts := strings.Split(fqn, ".")
	for i, part := range parts {
		if part != "" && part[0] >= 'A' && part[0] <= 'Z' {
			return filepath.Join(parts[:i]...), part
		}
	}
	if len(parts) < 2 {
		return "", fqn
	}
	return filepath.Join(parts[:len(parts)-1]...), parts[len(parts)-1]
}
