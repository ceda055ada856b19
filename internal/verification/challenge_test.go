package verification

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChallengeContainsAllChoicesExactlyOnce(t *testing.T) {
	ch := newChallenge("tok")

	require.Len(t, ch.Options, len(challengeChoices))
	seen := make(map[string]int)
	for _, c := range ch.Options {
		seen[c]++
	}
	for _, want := range challengeChoices {
		assert.Equal(t, 1, seen[want], "choice %q", want)
	}
	assert.Equal(t, "tok", ch.Token)
}

func TestChallengeOrderVariesAcrossIssues(t *testing.T) {
	// With 4 options there are 24 orderings; 50 draws all landing on one
	// ordering means the shuffle is broken
	first := newChallenge("t").Options
	for i := 0; i < 50; i++ {
		got := newChallenge("t").Options
		for j := range got {
			if got[j] != first[j] {
				return
			}
		}
	}
	t.Fatal("challenge option order never changed across 50 issues")
}

func TestIsCorrect(t *testing.T) {
	assert.True(t, IsCorrect(ChoiceHuman))
	assert.False(t, IsCorrect("bot"))
	assert.False(t, IsCorrect("skip"))
	assert.False(t, IsCorrect(""))
}
