package pattern

// Config carries the tuning knobs shared by all strategies. Zero values are
// replaced by the documented defaults in New.
type Config struct {
	// MaxRetries bounds per-task fix follow-ups before escalation.
	MaxRetries int
	// MaxIterations bounds review/fix cycles.
	MaxIterations int
	// StallRounds is how many consecutive non-improving review rounds
	// trigger early escalation.
	StallRounds int
	// VoterCount is the number of voters a consensus gate plans.
	VoterCount int
	// QuorumRatio is the approval fraction a consensus gate requires.
	QuorumRatio float64
	// ProposalRounds bounds consensus re-proposal rounds.
	ProposalRounds int
	// GateRetries bounds retries of a failed increment gate.
	GateRetries int
	// LevelAttempts bounds attempts per escalation-chain level.
	LevelAttempts int
	// Levels is the escalation chain, lowest capability first. The last
	// level is terminal and waits without a timeout.
	Levels []string
	// BlockedThreshold is the retry count at which a blocked task
	// triggers swarm mode.
	BlockedThreshold int
	// DiagnosisRounds bounds swarm diagnosis rounds before forced
	// escalation.
	DiagnosisRounds int
	// SwarmSize is the number of parallel diagnosticians per round.
	SwarmSize int
	// ConfidenceThreshold is the minimum consultant confidence accepted
	// without a second opinion, and the promotion bar for retro findings.
	ConfidenceThreshold float64
	// CorrectionRounds bounds interface-correction rounds per dual-track
	// barrier before downgrading to a sequential pipeline.
	CorrectionRounds int
	// Increments is how many delivery increments incremental mode plans
	// when the requirements do not enumerate them.
	Increments int
	// AggregateMode selects fan-out aggregation: union, intersection, or
	// weighted.
	AggregateMode string
	// FanQuorum is the agreement fraction fan-in requires before routing
	// conflicts to a consensus gate.
	FanQuorum float64
	// FanWidth is the sibling count fan-out plans when the requirements
	// do not enumerate parts.
	FanWidth int
}

// DefaultConfig returns the documented strategy defaults.
func DefaultConfig() Config {
	return Config{
		MaxRetries:          3,
		MaxIterations:       5,
		StallRounds:         2,
		VoterCount:          3,
		QuorumRatio:         2.0 / 3.0,
		ProposalRounds:      2,
		GateRetries:         3,
		LevelAttempts:       2,
		Levels:              []string{"builder", "reviewer", "architect", "operator"},
		BlockedThreshold:    2,
		DiagnosisRounds:     2,
		SwarmSize:           3,
		ConfidenceThreshold: 0.8,
		CorrectionRounds:    2,
		Increments:          3,
		AggregateMode:       "union",
		FanQuorum:           1.0,
		FanWidth:            3,
	}
}

// withDefaults fills zero-valued knobs from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxRetries == 0 {
		c.MaxRetries = d.MaxRetries
	}
	if c.MaxIterations == 0 {
		c.MaxIterations = d.MaxIterations
	}
	if c.StallRounds == 0 {
		c.StallRounds = d.StallRounds
	}
	if c.VoterCount == 0 {
		c.VoterCount = d.VoterCount
	}
	if c.QuorumRatio == 0 {
		c.QuorumRatio = d.QuorumRatio
	}
	if c.ProposalRounds == 0 {
		c.ProposalRounds = d.ProposalRounds
	}
	if c.GateRetries == 0 {
		c.GateRetries = d.GateRetries
	}
	if c.LevelAttempts == 0 {
		c.LevelAttempts = d.LevelAttempts
	}
	if len(c.Levels) == 0 {
		c.Levels = d.Levels
	}
	if c.BlockedThreshold == 0 {
		c.BlockedThreshold = d.BlockedThreshold
	}
	if c.DiagnosisRounds == 0 {
		c.DiagnosisRounds = d.DiagnosisRounds
	}
	if c.SwarmSize == 0 {
		c.SwarmSize = d.SwarmSize
	}
	if c.ConfidenceThreshold == 0 {
		c.ConfidenceThreshold = d.ConfidenceThreshold
	}
	if c.CorrectionRounds == 0 {
		c.CorrectionRounds = d.CorrectionRounds
	}
	if c.Increments == 0 {
		c.Increments = d.Increments
	}
	if c.AggregateMode == "" {
		c.AggregateMode = d.AggregateMode
	}
	if c.FanQuorum == 0 {
		c.FanQuorum = d.FanQuorum
	}
	if c.FanWidth == 0 {
		c.FanWidth = d.FanWidth
	}
	return c
}
