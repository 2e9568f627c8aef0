package testmap

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ariadne/internal/apperr"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestTestsForClassByConvention(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "src/main/java/com/a/OrderSvc.java", "class OrderSvc {}")
	writeFile(t, root, "src/test/java/com/a/OrderSvcTest.java", "class OrderSvcTest {}")
	writeFile(t, root, "src/test/java/com/a/OrderSvcIT.java", "class OrderSvcIT {}")

	m := New(root)
	got := m.TestsForClass("com.a.OrderSvc")
	assert.Equal(t, []string{
		"src/test/java/com/a/OrderSvcIT.java",
		"src/test/java/com/a/OrderSvcTest.java",
	}, got)
}

func TestNoTestsReturnsNil(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "src/main/java/com/a/Lonely.java", "class Lonely {}")

	m := New(root)
	assert.Nil(t, m.TestsForClass("com.a.Lonely"))
	assert.Nil(t, m.TestsForClass(""))
}

func TestMultiModuleRootsAreFound(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "order-service/src/test/java/com/a/SvcTest.java", "class SvcTest {}")
	writeFile(t, root, "payment-service/src/test/java/com/b/PayTest.java", "class PayTest {}")

	m := New(root)
	assert.Equal(t, []string{"order-service/src/test/java/com/a/SvcTest.java"}, m.TestsForClass("com.a.Svc"))
	assert.Equal(t, []string{"payment-service/src/test/java/com/b/PayTest.java"}, m.TestsForClass("com.b.Pay"))
}

func TestNestedClassUsesOuterFile(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "src/test/java/com/a/OuterTest.java", "class OuterTest {}")

	m := New(root)
	assert.Equal(t, []string{"src/test/java/com/a/OuterTest.java"}, m.TestsForClass("com.a.Outer.Inner"))
}

func TestTestMethodsExtraction(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "src/test/java/com/a/SvcTest.java", `
package com.a;

import org.junit.jupiter.api.Test;

class SvcTest {
    @Test
    void createsOrder() { }

    @Test
    public void rejectsEmptyCart() { }

    public void testLegacyNaming() { }

    private void helper() { }
}
`)

	m := New(root)
	methods, err := m.TestMethods("src/test/java/com/a/SvcTest.java")
	require.NoError(t, err)
	assert.Equal(t, []string{"createsOrder", "rejectsEmptyCart", "testLegacyNaming"}, methods)
}

func TestTestMethodsMissingFile(t *testing.T) {
	m := New(t.TempDir())
	_, err := m.TestMethods("src/test/java/Nope.java")
	assert.True(t, apperr.IsNotFound(err))
}

func TestIsTestFile(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "src/test/java/com/a/SvcTest.java", "class SvcTest {}")
	writeFile(t, root, "src/test/java/com/a/Fixture.java", "@Test class Weird {}")
	writeFile(t, root, "src/main/java/com/a/Svc.java", "class Svc {}")

	m := New(root)
	assert.True(t, m.IsTestFile("src/test/java/com/a/SvcTest.java"))
	assert.True(t, m.IsTestFile("src/test/java/com/a/Fixture.java"))
	assert.False(t, m.IsTestFile("src/main/java/com/a/Svc.java"))
}
