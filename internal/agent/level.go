package agent

// DefaultMaxApproaches bounds distinct answer approaches per level.
const DefaultMaxApproaches = 10

// levelState is the retry bookkeeping scoped to the current level. It is
// reset entirely on every level transition.
type levelState struct {
	// Distinct approaches exhausted on this level, not raw submissions.
	attempts int
	// Most recently submitted answer, compared for the duplicate rule.
	lastAnswer string
	// How many times lastAnswer was submitted unchanged.
	sameStreak int
	// A "next" URL the server offered alongside an incorrect answer,
	// retained for forced advancement.
	softPassURL string
}

// recordIncorrect applies the duplicate-answer rule for one incorrect
// submission: the streak resets to 1 when the answer changes and increments
// when it repeats; at 2 the unchanged answer counts as one exhausted
// approach and the streak and answer memory reset. Returns whether an
// approach was consumed.
func (s *levelState) recordIncorrect(answer string) bool {
	if s.sameStreak > 0 && answer == s.lastAnswer {
		s.sameStreak++
	} else {
		s.lastAnswer = answer
		s.sameStreak = 1
	}

	if s.sameStreak >= 2 {
		s.attempts++
		s.sameStreak = 0
		s.lastAnswer = ""
		return true
	}
	return false
}

// recordFailure consumes one approach directly; a transport failure burns
// retry budget so a broken endpoint cannot cause an infinite retry storm.
func (s *levelState) recordFailure() {
	s.attempts++
	s.sameStreak = 0
	s.lastAnswer = ""
}

// noteSoftPass remembers a server-offered next URL for forced advancement.
func (s *levelState) noteSoftPass(url string) {
	if url != "" {
		s.softPassURL = url
	}
}

// exhausted reports whether the retry budget for this level is spent.
func (s *levelState) exhausted(max int) bool {
	if max <= 0 {
		max = DefaultMaxApproaches
	}
	return s.attempts >= max
}

// reset returns all fields to their initial values at a level transition.
func (s *levelState) reset() {
	*s = levelState{}
}
