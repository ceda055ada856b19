package verification

import (
	"math/rand"
)

// ChoiceHuman is the only correct challenge answer.
const ChoiceHuman = "human"

// challengeChoices are the options every challenge presents. Rendering
// (labels, layout) belongs to the gateway; the engine only decides which
// keys appear and in what order.
var challengeChoices = []string{ChoiceHuman, "bot", "skip", "auto"}

// Challenge is one issuance of the human-verification prompt. Options
// are pre-shuffled so a blind click on a fixed position cannot pass.
type Challenge struct {
	Token   string
	Options []string
}

// newChallenge builds a challenge with a freshly shuffled option order.
func newChallenge(token string) Challenge {
	options := make([]string, len(challengeChoices))
	copy(options, challengeChoices)
	rand.Shuffle(len(options), func(i, j int) {
		options[i], options[j] = options[j], options[i]
	})
	return Challenge{Token: token, Options: options}
}

// IsCorrect reports whether choice answers the challenge.
func IsCorrect(choice string) bool {
	return choice == ChoiceHuman
}
