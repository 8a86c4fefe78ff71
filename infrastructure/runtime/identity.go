// Package runtime provides environment/runtime detection helpers shared across the service layer.
package runtime

import (
	"os"
	"strings"
	"sync"
)

// strictIdentityModeOnce caches the strict identity mode check at startup.
var (
	strictIdentityModeOnce  sync.Once
	strictIdentityModeValue bool
)

// ResetStrictIdentityModeCache resets the cached strict identity mode value.
// This should only be used in tests.
func ResetStrictIdentityModeCache() {
	strictIdentityModeOnce = sync.Once{}
	strictIdentityModeValue = false
}

// StrictIdentityMode returns true when the engine should fail closed on
// service-to-service identity boundaries (only trust caller identity carried
// by a verified service token, never a bare header).
//
// Production always runs strict. A deployment can also opt in explicitly via
// REWARD_ENGINE_STRICT_IDENTITY=1 so a mis-set REWARD_ENGINE_ENV cannot
// silently weaken the trust boundary between the command surface and the
// ledger.
func StrictIdentityMode() bool {
	strictIdentityModeOnce.Do(func() {
		env := Env()
		forced := strings.TrimSpace(os.Getenv("REWARD_ENGINE_STRICT_IDENTITY")) == "1"
		strictIdentityModeValue = env == Production || forced
	})
	return strictIdentityModeValue
}
