package system

// Layer identifies which tier of the reward engine a service belongs to.
// Used purely for presentation/ordering in status and descriptor listings.
type Layer string

const (
	LayerIngress    Layer = "ingress"    // activity/event intake, idempotency
	LayerLedger     Layer = "ledger"     // balances, journal, per-user serialization
	LayerComputation Layer = "computation" // mining rate, XP, RP, multiplier composition
	LayerRisk       Layer = "risk"       // risk gate, anomaly scoring
	LayerSettlement Layer = "settlement" // claim/session FSM, settlement retries
	LayerAPI        Layer = "api"        // external command/query surface
	LayerService    Layer = "service"    // default/unspecified
)

// Descriptor advertises a service's identity and place in the engine for
// status endpoints and startup diagnostics.
type Descriptor struct {
	Name         string
	Domain       string
	Layer        Layer
	Capabilities []string
	RequiresAPIs []string
	DependsOn    []string
}
