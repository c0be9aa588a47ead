package ratelimit

// TierConfig sets the request budget for one workflow tier
type TierConfig struct {
	Tier          WorkflowTier
	Limit         int64
	WindowSeconds int
}

// Per-client tier budgets. Every agent node implies LLM calls, so the
// budget shrinks as agents stack up.
var tierConfigs = map[WorkflowTier]TierConfig{
	TierSimple:   {Tier: TierSimple, Limit: 100, WindowSeconds: 60},
	TierStandard: {Tier: TierStandard, Limit: 20, WindowSeconds: 60},
	TierHeavy:    {Tier: TierHeavy, Limit: 5, WindowSeconds: 60},
}

// GlobalConfig caps total accepted requests across all clients
type GlobalConfig struct {
	Limit         int64
	WindowSeconds int
}

// DefaultGlobalConfig is the service-wide ceiling checked before any
// per-client budget.
var DefaultGlobalConfig = GlobalConfig{
	Limit:         100,
	WindowSeconds: 60,
}

// WorkflowTriggerConfig caps how often one client may trigger the same
// stored workflow.
var WorkflowTriggerConfig = GlobalConfig{
	Limit:         30,
	WindowSeconds: 60,
}

// GetLimitForTier returns the request budget for a tier. Unknown tiers
// get the heavy budget.
func GetLimitForTier(tier WorkflowTier) int64 {
	if cfg, ok := tierConfigs[tier]; ok {
		return cfg.Limit
	}
	return tierConfigs[TierHeavy].Limit
}

// GetWindowForTier returns the window in seconds for a tier
func GetWindowForTier(tier WorkflowTier) int {
	if cfg, ok := tierConfigs[tier]; ok {
		return cfg.WindowSeconds
	}
	return tierConfigs[TierHeavy].WindowSeconds
}
