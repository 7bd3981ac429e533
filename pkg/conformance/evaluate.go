package conformance

import (
	"errors"
	"fmt"
	"slices"
)

var (
	// ErrInsufficientReduction is returned when DTX did not cut the output
	// count enough.
	ErrInsufficientReduction = errors.New("conformance: insufficient DTX output reduction")
	// ErrNondeterministic is returned when repeated runs disagree by more
	// than the tolerance.
	ErrNondeterministic = errors.New("conformance: output count not deterministic")
)

// ReductionError reports the counts behind a failed DTX comparison.
type ReductionError struct {
	Normal   int
	DTX      int
	MaxRatio float64
}

func (e *ReductionError) Error() string {
	return fmt.Sprintf("dtx outputs %d not less than %g x normal outputs %d", e.DTX, e.MaxRatio, e.Normal)
}

func (e *ReductionError) Unwrap() error { return ErrInsufficientReduction }

// Evaluate passes iff the DTX pipeline emitted fewer than maxRatio times the
// normal pipeline's chunks. A non-positive maxRatio uses the scenario's.
func Evaluate(res *Result, maxRatio float64) error {
	if res == nil {
		return errors.New("conformance: no result to evaluate")
	}
	if maxRatio <= 0 {
		maxRatio = res.Scenario.withDefaults().MaxRatio
	}
	normal, dtx := res.Normal.Count(), res.DTX.Count()
	if float64(dtx) < float64(normal)*maxRatio {
		return nil
	}
	return &ReductionError{Normal: normal, DTX: dtx, MaxRatio: maxRatio}
}

// CheckDeterminism fails if the spread of counts exceeds tolerance.
func CheckDeterminism(counts []int, tolerance int) error {
	if len(counts) < 2 {
		return nil
	}
	lo, hi := slices.Min(counts), slices.Max(counts)
	if hi-lo > tolerance {
		return fmt.Errorf("%w: counts range %d-%d over %d runs, tolerance %d",
			ErrNondeterministic, lo, hi, len(counts), tolerance)
	}
	return nil
}
