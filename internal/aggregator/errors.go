package aggregator

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNoSources        = errors.New("no sources configured")
	ErrAllSourcesFailed = errors.New("all sources failed")
)

// AggregationError 汇总失败的来源，errors.As 可以取到底层的 FetchError / ExtractionError
type AggregationError struct {
	Policy    Policy
	Failures  []Result
	allFailed bool
}

func (e *AggregationError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, f.Err.Error())
	}
	prefix := "aggregate (" + string(e.Policy) + ")"
	if e.allFailed {
		prefix += ": " + ErrAllSourcesFailed.Error()
	}
	return fmt.Sprintf("%s: %d source(s) failed: %s", prefix, len(e.Failures), strings.Join(parts, "; "))
}

func (e *AggregationError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	return errs
}

func (e *AggregationError) Is(target error) bool {
	return target == ErrAllSourcesFailed && e.allFailed
}
