package daemon

import (
	"testing"

	"go.uber.org/fx"
)

// TestModuleGraph verifies the dependency graph is complete without running
// the daemon (no lock acquisition, no network).
func TestModuleGraph(t *testing.T) {
	err := fx.ValidateApp(
		Module(Params{SessionName: "test"}),
	)
	if err != nil {
		t.Fatalf("fx graph invalid: %v", err)
	}
}
