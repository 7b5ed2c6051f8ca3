package trading

import (
	"sort"

	"coinpulse/src/signal"
)

// Candidate is a market considered for a new position.
type Candidate struct {
	Market     string        `json:"market"`
	Price      float64       `json:"price"`
	ChangeRate float64       `json:"change_rate"`
	Analysis   signal.Result `json:"analysis"`
}

// RankCandidates keeps the buy signals and orders them by confidence, then by
// 24h change rate, then by market code.
func RankCandidates(cs []Candidate) []Candidate {
	out := make([]Candidate, 0, len(cs))
	for _, c := range cs {
		if c.Analysis.Signal == signal.Buy {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Analysis.Confidence != b.Analysis.Confidence {
			return a.Analysis.Confidence > b.Analysis.Confidence
		}
		if a.ChangeRate != b.ChangeRate {
			return a.ChangeRate > b.ChangeRate
		}
		return a.Market < b.Market
	})
	return out
}
