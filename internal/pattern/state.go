package pattern

// State is the engine's persistent accumulator. It is JSON-serializable and
// checkpointed with the session, so a resumed coordinator reconstructs the
// exact strategy position.
type State struct {
	// Iteration counts strategy-level rounds (review cycles, proposal
	// rounds, diagnosis rounds).
	Iteration int `json:"iteration"`
	// Cursor is the message log sequence already consumed by Decide.
	Cursor int64 `json:"cursor"`
	// Counters holds named bounded-retry counters.
	Counters map[string]int `json:"counters,omitempty"`
	// Flags holds named booleans (timeout fired, track downgraded, ...).
	Flags map[string]bool `json:"flags,omitempty"`
	// Notes holds named strings (deferred items, diagnosis owner, ...).
	Notes map[string]string `json:"notes,omitempty"`
	// Diagnosis is the accumulated diagnosis chain, oldest first.
	Diagnosis []string `json:"diagnosis,omitempty"`
	// History tracks finding counts per review round, used for the
	// non-improvement check.
	History []int `json:"history,omitempty"`
}

// NewState returns an empty engine state.
func NewState() *State {
	return &State{
		Counters: make(map[string]int),
		Flags:    make(map[string]bool),
		Notes:    make(map[string]string),
	}
}

// normalize re-creates nil maps after JSON decoding.
func (s *State) normalize() {
	if s.Counters == nil {
		s.Counters = make(map[string]int)
	}
	if s.Flags == nil {
		s.Flags = make(map[string]bool)
	}
	if s.Notes == nil {
		s.Notes = make(map[string]string)
	}
}

// Counter returns the named counter value.
func (s *State) Counter(key string) int {
	s.normalize()
	return s.Counters[key]
}

// Bump increments the named counter and returns the new value.
func (s *State) Bump(key string) int {
	s.normalize()
	s.Counters[key]++
	return s.Counters[key]
}

// Flag returns the named flag.
func (s *State) Flag(key string) bool {
	s.normalize()
	return s.Flags[key]
}

// SetFlag sets the named flag.
func (s *State) SetFlag(key string, v bool) {
	s.normalize()
	s.Flags[key] = v
}

// Note returns the named note.
func (s *State) Note(key string) string {
	s.normalize()
	return s.Notes[key]
}

// SetNote sets the named note.
func (s *State) SetNote(key, v string) {
	s.normalize()
	s.Notes[key] = v
}
