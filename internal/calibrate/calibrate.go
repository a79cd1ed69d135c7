// Package calibrate compares heuristic token estimates against a real BPE
// tokenizer. It is a developer diagnostic; budgeting never depends on it.
package calibrate

import (
	"fmt"
	"math"

	tiktoken "github.com/pkoukk/tiktoken-go"

	"github.com/memvra/ctxbudget/internal/tokens"
)

// Encoding is the reference BPE encoding.
const Encoding = "cl100k_base"

// Tokenizer wraps tiktoken for exact token counting.
type Tokenizer struct {
	enc *tiktoken.Tiktoken
}

// NewTokenizer creates a Tokenizer using the cl100k_base encoding.
func NewTokenizer() (*Tokenizer, error) {
	enc, err := tiktoken.GetEncoding(Encoding)
	if err != nil {
		return nil, fmt.Errorf("calibrate: get encoding: %w", err)
	}
	return &Tokenizer{enc: enc}, nil
}

// Count returns the number of tokens in s.
func (t *Tokenizer) Count(s string) int {
	return len(t.enc.Encode(s, nil, nil))
}

// Sample is one calibration input.
type Sample struct {
	Name string
	Text string
}

// Result compares the two counts for one sample. Error is the signed
// relative error of the heuristic, (heuristic - reference) / reference.
type Result struct {
	Name      string
	Type      tokens.ContentType
	Heuristic int
	Reference int
	Error     float64
}

// Report aggregates results for one model's rules.
type Report struct {
	Model   string
	Results []Result
	// MeanAbsError is the mean of |Error| over samples with a non-zero
	// reference count.
	MeanAbsError float64
	// Overestimates counts samples where the heuristic exceeded the reference.
	Overestimates int
}

// Compare estimates every sample with est under modelID and counts it with
// tok.
func Compare(est *tokens.Estimator, tok *Tokenizer, modelID string, samples []Sample) Report {
	r := Report{Model: modelID, Results: make([]Result, 0, len(samples))}

	var sum float64
	var n int
	for _, s := range samples {
		b := est.Breakdown(s.Text, modelID)
		res := Result{
			Name:      s.Name,
			Type:      b.Type,
			Heuristic: b.Total,
			Reference: tok.Count(s.Text),
		}
		if res.Reference > 0 {
			res.Error = float64(res.Heuristic-res.Reference) / float64(res.Reference)
			sum += math.Abs(res.Error)
			n++
		}
		if res.Heuristic > res.Reference {
			r.Overestimates++
		}
		r.Results = append(r.Results, res)
	}
	if n > 0 {
		r.MeanAbsError = sum / float64(n)
	}
	return r
}
