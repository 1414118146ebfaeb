package utils

import "testing"

func TestLockScriptCompiles(t *testing.T) {
	// Compile-time smoke test: the script should be initialized.
	if lockReleaseScript == nil {
		t.Fatalf("expected script to be initialized")
	}
}
