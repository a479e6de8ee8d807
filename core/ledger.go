package core

import (
	"context"
	"fmt"
	"math/big"

	"github.com/axiomesh/axiom-kit/storage"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
)

const (
	keyVoteBody   = "v%d/%x"
	keyVoteCount  = "vc%d"
	keyVoteWeight = "w%d/%d"
)

// VotingLedger owns vote records and per-option weight aggregates.
// Proposals are only looked up, never written.
type VotingLedger struct {
	db       storage.Storage
	store    *ProposalStore
	resolver *WeightResolver
}

func NewVotingLedger(db storage.Storage, store *ProposalStore, resolver *WeightResolver) *VotingLedger {
	return &VotingLedger{
		db:       db,
		store:    store,
		resolver: resolver,
	}
}

// Vote stages a vote of voter for the option matching value. height is the
// block the vote is cast at; voting closes once it reaches the block limit.
func (l *VotingLedger) Vote(ctx context.Context, batch storage.Batch, height uint64, id uint64, voter common.Address, value common.Hash) (*Vote, error) {
	p, err := l.store.Get(id)
	if err != nil {
		return nil, err
	}

	prev, err := l.VoteOf(id, voter)
	if err != nil {
		return nil, err
	}
	if prev.HasVoted {
		return nil, errors.Wrapf(ErrHasVoted, "%s on proposal %d", voter, id)
	}
	if height >= p.BlockLimit {
		return nil, errors.Wrapf(ErrVotingClosed, "proposal %d closed at block %d, current block %d", id, p.BlockLimit, height)
	}

	index, ok := p.OptionIndex(value)
	if !ok {
		return nil, errors.Wrapf(ErrInvalidOption, "value %s on proposal %d", value, id)
	}

	weight, err := l.resolver.Weight(ctx, p.VotingPowerToken, voter, p.SnapshotID)
	if err != nil {
		return nil, err
	}

	total, err := l.optionWeight(id, index)
	if err != nil {
		return nil, err
	}
	w, overflow := uint256.FromBig(weight)
	if overflow {
		return nil, errors.Wrapf(ErrWeightOverflow, "weight %s", weight)
	}
	if _, overflow := total.AddOverflow(total, w); overflow {
		return nil, errors.Wrapf(ErrWeightOverflow, "option %d of proposal %d", index, id)
	}

	v := &Vote{
		HasVoted:    true,
		OptionIndex: index,
		Weight:      weight,
	}
	data, err := rlp.EncodeToBytes(v)
	if err != nil {
		return nil, errors.Wrap(err, "encode vote")
	}
	sum := total.Bytes32()
	batch.Put([]byte(fmt.Sprintf(keyVoteBody, id, voter)), data)
	batch.Put([]byte(fmt.Sprintf(keyVoteWeight, id, index)), sum[:])
	batch.Put([]byte(fmt.Sprintf(keyVoteCount, id)), uint64Bytes(l.count(id)+1))

	return v, nil
}

// VoteOf returns the vote of account, HasVoted is false when none exists.
func (l *VotingLedger) VoteOf(id uint64, account common.Address) (*Vote, error) {
	data := l.db.Get([]byte(fmt.Sprintf(keyVoteBody, id, account)))
	if data == nil {
		return &Vote{Weight: new(big.Int)}, nil
	}

	v := &Vote{}
	if err := rlp.DecodeBytes(data, v); err != nil {
		return nil, errors.Wrapf(err, "decode vote of %s on proposal %d", account, id)
	}
	if v.Weight == nil {
		v.Weight = new(big.Int)
	}
	return v, nil
}

// VoteCount is the number of votes cast, not their weight.
func (l *VotingLedger) VoteCount(id uint64) (uint64, error) {
	if _, err := l.store.Get(id); err != nil {
		return 0, err
	}
	return l.count(id), nil
}

func (l *VotingLedger) VotesWeight(id uint64, index uint8) (*big.Int, error) {
	if _, err := l.store.Get(id); err != nil {
		return nil, err
	}
	if index >= OptionCount {
		return nil, errors.Wrapf(ErrInvalidOption, "option index %d", index)
	}
	w, err := l.optionWeight(id, index)
	if err != nil {
		return nil, err
	}
	return w.ToBig(), nil
}

// TotalWeight sums the aggregates of every option.
func (l *VotingLedger) TotalWeight(id uint64) (*big.Int, error) {
	total := new(big.Int)
	for i := uint8(0); i < OptionCount; i++ {
		w, err := l.VotesWeight(id, i)
		if err != nil {
			return nil, err
		}
		total.Add(total, w)
	}
	return total, nil
}

// WinnerOption returns the option with the strictly greatest weight. Ties,
// all-zero included, go to the lowest index.
func (l *VotingLedger) WinnerOption(id uint64) (*Winner, error) {
	p, err := l.store.Get(id)
	if err != nil {
		return nil, err
	}

	var (
		best  uint8
		bestW = new(uint256.Int)
	)
	for i := uint8(0); i < OptionCount; i++ {
		w, err := l.optionWeight(id, i)
		if err != nil {
			return nil, err
		}
		if w.Gt(bestW) {
			best = i
			bestW = w
		}
	}

	return &Winner{Index: best, Value: p.Options[best]}, nil
}

func (l *VotingLedger) count(id uint64) uint64 {
	return getUint64(l.db, fmt.Sprintf(keyVoteCount, id))
}

func (l *VotingLedger) optionWeight(id uint64, index uint8) (*uint256.Int, error) {
	data := l.db.Get([]byte(fmt.Sprintf(keyVoteWeight, id, index)))
	if data == nil {
		return new(uint256.Int), nil
	}
	if len(data) != 32 {
		return nil, errors.Errorf("corrupted weight of option %d on proposal %d", index, id)
	}
	return new(uint256.Int).SetBytes(data), nil
}
