package env

import "testing"

func TestGet(t *testing.T) {
	t.Setenv("LE_TEST_VALUE", " set ")
	if got := Get("LE_TEST_VALUE", "fallback"); got != "set" {
		t.Fatalf("expected trimmed value, got %q", got)
	}
	if got := Get("LE_TEST_MISSING", "fallback"); got != "fallback" {
		t.Fatalf("expected fallback, got %q", got)
	}
}

func TestGetBool(t *testing.T) {
	t.Setenv("LE_TEST_BOOL", "true")
	if !GetBool("LE_TEST_BOOL", false) {
		t.Fatalf("expected true")
	}
	t.Setenv("LE_TEST_BOOL", "nope")
	if !GetBool("LE_TEST_BOOL", true) {
		t.Fatalf("invalid values should return the fallback")
	}
}
