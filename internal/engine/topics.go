package engine

import "math/rand"

// topicPool seeds discussion prompts. Every round's topic is drawn from this
// pool; there is no path for a caller to supply its own topic.
var topicPool = []string{
	"What's a food you could eat every day without getting tired of it?",
	"If you could instantly master one skill, what would it be?",
	"What's the most overrated movie everyone seems to love?",
	"Describe your perfect lazy Sunday.",
	"What's a small thing that always makes your day better?",
	"If you had to live in another decade, which one would you pick?",
	"What's the strangest thing you believed as a kid?",
	"Coffee or tea, and how do you take it?",
	"What's a place you've never been that you think about a lot?",
	"What song have you had on repeat lately?",
	"What's an unpopular opinion you're willing to defend?",
	"If animals could talk, which species would be the rudest?",
	"What's the best piece of advice you've ever ignored?",
	"What would you do with an extra hour every day?",
	"What's a hobby you picked up and abandoned within a month?",
}

// PickTopic draws a random topic, redrawing up to four times to avoid the
// current one; the final draw is not checked, so a repeat is rare but possible.
func PickTopic(rng *rand.Rand, current string) string {
	if len(topicPool) == 1 {
		return topicPool[0]
	}
	for i := 0; i < 4; i++ {
		t := topicPool[rng.Intn(len(topicPool))]
		if t != current {
			return t
		}
	}
	return topicPool[rng.Intn(len(topicPool))]
}
