package version

import (
	"strings"
	"testing"
)

func TestInfoMatchesGetters(t *testing.T) {
	v, c, d := Info()
	if v == "" || c == "" || d == "" {
		t.Fatalf("build info must not be empty: %q %q %q", v, c, d)
	}
	if GetVersion() != v || GetCommit() != c || GetDate() != d {
		t.Fatal("getters must match Info")
	}
}

func TestString(t *testing.T) {
	s := String()
	for _, part := range []string{"version=" + GetVersion(), "commit=" + GetCommit(), "date=" + GetDate()} {
		if !strings.Contains(s, part) {
			t.Errorf("String() = %q, missing %q", s, part)
		}
	}
}

func TestLdflagsOverride(t *testing.T) {
	saved := version
	t.Cleanup(func() { version = saved })

	version = "v1.2.3"
	if GetVersion() != "v1.2.3" || !strings.HasPrefix(String(), "version=v1.2.3 ") {
		t.Fatalf("unexpected version output %q", String())
	}
}
