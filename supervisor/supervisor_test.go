package supervisor

import "testing"

func TestSocketPathFor_IsUniquePerCall(t *testing.T) {
	dir := t.TempDir()

	a, err := socketPathFor(dir)
	if err != nil {
		t.Fatalf("socketPathFor: %v", err)
	}
	b, err := socketPathFor(dir)
	if err != nil {
		t.Fatalf("socketPathFor: %v", err)
	}
	if a == b {
		t.Fatalf("expected distinct paths, got %q twice", a)
	}
}
