package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRecordIncorrectDuplicateRule(t *testing.T) {
	var s levelState

	// First wrong answer starts a streak but consumes nothing.
	assert.False(t, s.recordIncorrect(`"blue"`))
	assert.Equal(t, 0, s.attempts)

	// A different answer restarts the streak.
	assert.False(t, s.recordIncorrect(`"red"`))
	assert.Equal(t, 0, s.attempts)

	// Repeating the same answer consumes one approach and resets memory.
	assert.True(t, s.recordIncorrect(`"red"`))
	assert.Equal(t, 1, s.attempts)
	assert.Equal(t, 0, s.sameStreak)
	assert.Empty(t, s.lastAnswer)
}

func TestRecordIncorrectSameAnswerThreeTimes(t *testing.T) {
	var s levelState

	assert.False(t, s.recordIncorrect(`"42"`))
	assert.True(t, s.recordIncorrect(`"42"`))
	assert.Equal(t, 1, s.attempts)

	// After the reset the third identical submission starts a fresh streak.
	assert.False(t, s.recordIncorrect(`"42"`))
	assert.Equal(t, 1, s.attempts)
	assert.Equal(t, 1, s.sameStreak)
}

func TestRecordFailureConsumesDirectly(t *testing.T) {
	var s levelState
	s.recordIncorrect(`"a"`)
	s.recordFailure()
	assert.Equal(t, 1, s.attempts)
	// The failure also wipes the streak so a retry of "a" is a fresh start.
	assert.False(t, s.recordIncorrect(`"a"`))
	assert.Equal(t, 1, s.attempts)
}

func TestExhausted(t *testing.T) {
	var s levelState
	for i := 0; i < DefaultMaxApproaches-1; i++ {
		s.recordFailure()
	}
	assert.False(t, s.exhausted(0))
	s.recordFailure()
	assert.True(t, s.exhausted(0))

	var small levelState
	small.recordFailure()
	small.recordFailure()
	assert.True(t, small.exhausted(2))
	assert.False(t, small.exhausted(3))
}

func TestNoteSoftPassKeepsLastOffer(t *testing.T) {
	var s levelState
	s.noteSoftPass("")
	assert.Empty(t, s.softPassURL)
	s.noteSoftPass("/level/3")
	s.noteSoftPass("")
	assert.Equal(t, "/level/3", s.softPassURL)
	s.noteSoftPass("/level/4")
	assert.Equal(t, "/level/4", s.softPassURL)
}

func TestResetClearsEverything(t *testing.T) {
	var s levelState
	s.recordIncorrect(`"x"`)
	s.recordFailure()
	s.noteSoftPass("/next")
	s.reset()
	assert.Equal(t, levelState{}, s)
}
