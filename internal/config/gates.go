package config

import (
	"os"
	"strings"
)

// Send gates. Unlike the rest of the configuration these are read from the
// environment at call time, not captured at startup, so an operator can
// open or close them on a running process.

// TestSendingEnabled reports whether test-mode email may leave the process.
// Enabled unless TEST_EMAIL_SENDING is set to something other than ENABLED.
func TestSendingEnabled() bool {
	return gateOpen("TEST_EMAIL_SENDING", "ENABLED")
}

// ProductionSendingEnabled reports whether production email may leave the
// process. Disabled unless PRODUCTION_EMAIL_SENDING is set to ENABLED.
func ProductionSendingEnabled() bool {
	return gateOpen("PRODUCTION_EMAIL_SENDING", "DISABLED")
}

// SendAllowed reports whether the gate for the given send mode is open.
// Any mode other than production is treated as test.
func SendAllowed(mode string) bool {
	if mode == "production" {
		return ProductionSendingEnabled()
	}
	return TestSendingEnabled()
}

// DryRun reports whether sends should be recorded without calling the
// provider. On by default; set EMAIL_DRY_RUN=false for real sends.
func DryRun() bool {
	return GetBool("EMAIL_DRY_RUN", true)
}

func gateOpen(key, fallback string) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		v = fallback
	}
	return strings.ToUpper(v) == "ENABLED"
}
