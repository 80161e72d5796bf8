package engine

// TallyResult is the outcome of resolving one voting phase.
type TallyResult struct {
	Counts     map[string]int
	Eliminated *Player
	TieBreak   bool
	NoVotes    bool
}

// ResolveVotes tallies the round's ballots and applies the elimination.
// Abstentions are allowed; with zero ballots cast nobody is eliminated.
// Ties go to the tied target with the smallest player number.
func (s *State) ResolveVotes() TallyResult {
	res := TallyResult{Counts: make(map[string]int)}
	for _, target := range s.Votes {
		res.Counts[target]++
	}
	if len(res.Counts) == 0 {
		res.NoVotes = true
		return res
	}

	max := 0
	for _, n := range res.Counts {
		if n > max {
			max = n
		}
	}
	var top []string
	for target, n := range res.Counts {
		if n == max {
			top = append(top, target)
		}
	}

	pick := top[0]
	if len(top) > 1 {
		res.TieBreak = true
		for _, id := range top[1:] {
			if pn, ok := s.PlayerByID(id); ok {
				if cur, ok2 := s.PlayerByID(pick); !ok2 || pn.Number < cur.Number {
					pick = id
				}
			}
		}
	}

	idx := s.indexOf(pick)
	if idx < 0 {
		res.NoVotes = true
		return res
	}
	s.Players[idx].Eliminated = true
	p := s.Players[idx]
	res.Eliminated = &p
	return res
}

// Winner values.
const (
	WinnerHumans = "humans"
	WinnerAI     = "ai"
)

// CheckWin evaluates win conditions after an elimination is applied.
// eliminated may be nil when the round ended with no ballots.
//
// With survivalWin false (the default) humans win as soon as they vote out
// an AI at or past roundsToWin; with it true humans must outlast the full
// roundsToWin rounds. Either way, reaching roundsToWin with humans alive is
// a survival win, and losing every human is an AI win.
func (s *State) CheckWin(eliminated *Player, roundsToWin int, survivalWin bool) (winner, reason string) {
	if len(s.AliveHumans()) == 0 {
		return WinnerAI, "all humans eliminated"
	}
	if !survivalWin && eliminated != nil && eliminated.Kind == KindAI && s.Round >= roundsToWin {
		return WinnerHumans, "the ai was found"
	}
	if s.Round >= roundsToWin {
		return WinnerHumans, "humans survived"
	}
	return "", ""
}

// AdvanceRound clears ballots and moves the room into the next discussion.
func (s *State) AdvanceRound(topic string) {
	s.Round++
	s.Topic = topic
	s.Votes = make(map[string]string)
	s.Phase = PhaseDiscussion
}
