package payments

import "github.com/suspectuso/runes-oracle/internal/ledger"

// Outcome is the terminal state of a monitored payment
type Outcome int

const (
	OutcomeSucceeded Outcome = iota + 1
	OutcomeCanceled
	OutcomeTimedOut
	OutcomeProviderError
	OutcomeInterrupted // process shutdown
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSucceeded:
		return "succeeded"
	case OutcomeCanceled:
		return "canceled"
	case OutcomeTimedOut:
		return "timed_out"
	case OutcomeProviderError:
		return "provider_error"
	case OutcomeInterrupted:
		return "interrupted"
	}
	return "unknown"
}

// Result is what a finished poll reports
type Result struct {
	Outcome  Outcome
	Attempts int
	Credit   ledger.CreditResult
	Err      error // last inconclusive attempt, if any
}
