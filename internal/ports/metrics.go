package ports

// Metrics records engine observability data. Implementations must be safe for concurrent use.
type Metrics interface {
	// ObserveDecision counts one risk decision. check is the failing check name, or "none" on approval.
	ObserveDecision(symbol string, approved bool, check string)
	// ObservePhaseError counts a failure isolated at a control loop phase boundary.
	ObservePhaseError(phase string)
	// ObserveFill counts one execution report by status.
	ObserveFill(symbol string, status string)
	// SetRiskMetrics publishes the latest risk metric snapshot.
	SetRiskMetrics(metrics map[string]float64)
	// SetPortfolio publishes portfolio value and cash.
	SetPortfolio(totalValue, cash float64)
	// SetEngineState publishes the lifecycle state as its ordinal.
	SetEngineState(state int)
	// ObserveIteration records the duration of one control loop iteration in seconds.
	ObserveIteration(seconds float64)
}
