package engine

import "strings"

// modelRate is USD per million tokens.
type modelRate struct {
	input  float64
	output float64
}

// rateTable holds approximate per-model pricing, keyed by a model name
// fragment. Unknown models fall back to defaultRate.
var rateTable = map[string]modelRate{
	"opus":   {input: 15.0, output: 75.0},
	"sonnet": {input: 3.0, output: 15.0},
	"haiku":  {input: 0.8, output: 4.0},
}

var defaultRate = modelRate{input: 3.0, output: 15.0}

// costUSD estimates the cost of a round-trip on the given model.
func costUSD(model string, tokensIn, tokensOut int64) float64 {
	rate := defaultRate
	lower := strings.ToLower(model)
	for fragment, r := range rateTable {
		if strings.Contains(lower, fragment) {
			rate = r
			break
		}
	}
	return float64(tokensIn)/1_000_000*rate.input + float64(tokensOut)/1_000_000*rate.output
}
