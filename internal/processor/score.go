package processor

import "strconv"

// NoScore is recorded when a result carries no usable score.
const NoScore = -1.0

// ScoreFunc extracts a score from one result.
type ScoreFunc func(Result) float64

// FlagScore reads the named flag as a float.
func FlagScore(name string) ScoreFunc {
	return func(r Result) float64 {
		v, ok := r.Flag(name)
		if !ok {
			return NoScore
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return NoScore
		}
		return f
	}
}

// DefaultScore reads the "probability" flag.
var DefaultScore = FlagScore("probability")
