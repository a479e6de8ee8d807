package core

import (
	"github.com/pkg/errors"
)

// Error messages are the contract level reasons reported to callers.
var (
	ErrInvalidProposal    = errors.New("INVALID_PROPOSAL")
	ErrInvalidOption      = errors.New("INVALID_OPTION")
	ErrInvalidSnapshot    = errors.New("INVALID_SNAPSHOT")
	ErrHasVoted           = errors.New("HAS_VOTED")
	ErrTooEarly           = errors.New("TOO_EARLY")
	ErrAlreadyFinished    = errors.New("ALREADY_FINISHED")
	ErrInsufficientQuorum = errors.New("INSUFFICIENT_QUORUM")
	ErrExecutionFailed    = errors.New("EXECUTION_FAILED")

	ErrVotingClosed    = errors.New("VOTING_CLOSED")
	ErrIndexOutOfRange = errors.New("INDEX_OUT_OF_RANGE")
	ErrWeightOverflow  = errors.New("WEIGHT_OVERFLOW")
	ErrInvalidQuorum   = errors.New("INVALID_QUORUM")
)

var reasons = []error{
	ErrInvalidProposal,
	ErrInvalidOption,
	ErrInvalidSnapshot,
	ErrHasVoted,
	ErrTooEarly,
	ErrAlreadyFinished,
	ErrInsufficientQuorum,
	ErrExecutionFailed,
	ErrVotingClosed,
	ErrIndexOutOfRange,
	ErrWeightOverflow,
	ErrInvalidQuorum,
}

// Reason returns the contract level reason carried by err, or an empty
// string when err is not an engine error.
func Reason(err error) string {
	for _, r := range reasons {
		if errors.Is(err, r) {
			return r.Error()
		}
	}
	return ""
}
