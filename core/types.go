package core

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// OptionCount is the fixed number of options every proposal carries.
const OptionCount = 4

type ProposalStatus uint8

const (
	// Open means the proposal still accepts votes or waits for finish
	Open ProposalStatus = iota

	// Finished is terminal, the winner is locked in
	Finished
)

func (s ProposalStatus) String() string {
	if s == Finished {
		return "finished"
	}
	return "open"
}

// Payload is passed through unmodified to the target contract on finish.
type Payload [2]common.Hash

type Options [OptionCount]common.Hash

// ProposalRequest carries everything a creator supplies to AddProposal.
type ProposalRequest struct {
	Payload          Payload
	IpfsData         string
	VotingPowerToken common.Address
	TargetContract   common.Address
	BlockLimit       uint64
	Options          Options
	OnChain          bool

	// SnapshotID 0 means live balances are used at vote time
	SnapshotID    uint64
	MinimumQuorum *big.Int
}

type Proposal struct {
	ID               uint64
	Payload          Payload
	IpfsData         string
	VotingPowerToken common.Address
	TargetContract   common.Address
	BlockLimit       uint64
	Options          Options
	OnChain          bool
	SnapshotID       uint64
	MinimumQuorum    *big.Int
	Creator          common.Address
	Finished         bool
}

func (p *Proposal) Status() ProposalStatus {
	if p.Finished {
		return Finished
	}
	return Open
}

// OptionIndex returns the position of value in the proposal options.
// Matching is exact equality over the 32 bytes.
func (p *Proposal) OptionIndex(value common.Hash) (uint8, bool) {
	for i, opt := range p.Options {
		if opt == value {
			return uint8(i), true
		}
	}
	return 0, false
}

type Vote struct {
	HasVoted    bool
	OptionIndex uint8

	// Weight is frozen at vote time and never recomputed
	Weight *big.Int
}

type Winner struct {
	Index uint8
	Value common.Hash
}
