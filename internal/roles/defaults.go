// Package roles provides the closed registry of worker roles. Task owners
// are validated against it at creation time: an unknown owner is rejected,
// never silently accepted.
package roles

// Role describes one worker capability profile.
type Role struct {
	// Name is the registry key, referenced by Task.Owner.
	Name string `yaml:"name"`
	// Description is shown in status output.
	Description string `yaml:"description"`
	// Capabilities are free-form tags used when composing prompts.
	Capabilities []string `yaml:"capabilities"`
	// Prompt is the role preamble prepended to every task prompt.
	Prompt string `yaml:"prompt"`
	// TimeoutSeconds bounds one worker round. Zero means wait without a
	// deadline (the escalation chain's terminal operator level).
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

// Defaults are the built-in roles every session can rely on. A roles file
// may add to or override them but never removes the set.
var Defaults = []Role{
	{
		Name:           "planner",
		Description:    "breaks requirements into tasks and drafts proposals",
		Capabilities:   []string{"decompose", "propose"},
		Prompt:         "You are the planner. Break the work down and state assumptions explicitly.",
		TimeoutSeconds: 300,
	},
	{
		Name:           "builder",
		Description:    "implements tasks and applies fixes",
		Capabilities:   []string{"implement", "fix"},
		Prompt:         "You are the builder. Implement exactly what the task describes.",
		TimeoutSeconds: 900,
	},
	{
		Name:           "reviewer",
		Description:    "reviews produced work and casts votes",
		Capabilities:   []string{"review", "vote"},
		Prompt:         "You are the reviewer. Report findings and end with a Verdict line.",
		TimeoutSeconds: 600,
	},
	{
		Name:           "verifier",
		Description:    "runs gate checks and verification suites",
		Capabilities:   []string{"verify", "gate"},
		Prompt:         "You are the verifier. Check the gate predicates and report pass or fail.",
		TimeoutSeconds: 600,
	},
	{
		Name:           "diagnostician",
		Description:    "diagnoses blocked tasks during a swarm",
		Capabilities:   []string{"diagnose"},
		Prompt:         "You are a diagnostician. Propose one fix with a Confidence line.",
		TimeoutSeconds: 300,
	},
	{
		Name:           "consultant",
		Description:    "answers consult requests without taking ownership",
		Capabilities:   []string{"advise"},
		Prompt:         "You are a consultant. Answer the question with a Confidence line.",
		TimeoutSeconds: 300,
	},
	{
		Name:           "integrator",
		Description:    "consumes pipelined items and guards sync barriers",
		Capabilities:   []string{"integrate", "consume"},
		Prompt:         "You are the integrator. Consume the item and report the result.",
		TimeoutSeconds: 600,
	},
	{
		Name:           "operator",
		Description:    "the human escalation target; waits without a deadline",
		Capabilities:   []string{"decide"},
		Prompt:         "Escalated to the external operator.",
		TimeoutSeconds: 0,
	},
}
