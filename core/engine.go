package core

import (
	"context"
	"math/big"

	"github.com/axiomesh/axiom-kit/storage"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/sasha-s/go-deadlock"
	"github.com/sirupsen/logrus"
)

// Engine serializes every operation: each one runs to completion under the
// lock and either commits one storage batch or leaves no trace. The lock is
// released only around the external call made by Finish.
type Engine struct {
	mu     deadlock.Mutex
	db     storage.Storage
	clock  BlockClock
	logger logrus.FieldLogger

	resolver    *WeightResolver
	store       *ProposalStore
	ledger      *VotingLedger
	coordinator *Coordinator

	// proposals whose external call is in progress
	finishing map[uint64]struct{}
}

func NewEngine(db storage.Storage, tokens TokenBackend, receiver Receiver, clock BlockClock, logger logrus.FieldLogger) *Engine {
	resolver := NewWeightResolver(tokens)
	store := NewProposalStore(db)
	ledger := NewVotingLedger(db, store, resolver)

	return &Engine{
		db:          db,
		clock:       clock,
		logger:      logger.WithField("module", "engine"),
		resolver:    resolver,
		store:       store,
		ledger:      ledger,
		coordinator: NewCoordinator(store, ledger, receiver),
		finishing:   make(map[uint64]struct{}),
	}
}

func (e *Engine) AddProposal(ctx context.Context, creator common.Address, req *ProposalRequest) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	batch := e.db.NewBatch()
	p, err := e.store.Add(batch, creator, req)
	if err != nil {
		return 0, err
	}
	batch.Commit()

	e.logger.WithFields(logrus.Fields{
		"proposal":    p.ID,
		"creator":     creator,
		"token":       p.VotingPowerToken,
		"block_limit": p.BlockLimit,
		"snapshot":    p.SnapshotID,
		"on_chain":    p.OnChain,
	}).Info("add proposal")

	return p.ID, nil
}

func (e *Engine) Vote(ctx context.Context, id uint64, voter common.Address, value common.Hash) (*Vote, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	height, err := e.blockNumber(ctx)
	if err != nil {
		return nil, err
	}

	batch := e.db.NewBatch()
	v, err := e.ledger.Vote(ctx, batch, height, id, voter, value)
	if err != nil {
		e.logger.WithFields(logrus.Fields{
			"proposal": id,
			"voter":    voter,
		}).Debugf("reject vote: %s", err)
		return nil, err
	}
	batch.Commit()

	e.logger.WithFields(logrus.Fields{
		"proposal": id,
		"voter":    voter,
		"option":   v.OptionIndex,
		"weight":   v.Weight,
	}).Info("vote")

	return v, nil
}

// Finish finalizes proposal id. For on-chain proposals the receiver is
// called once; if it fails the proposal stays open.
func (e *Engine) Finish(ctx context.Context, id uint64) (*Winner, error) {
	e.mu.Lock()

	height, err := e.blockNumber(ctx)
	if err != nil {
		e.mu.Unlock()
		return nil, err
	}

	p, winner, err := e.coordinator.Prepare(height, id)
	if err != nil {
		e.mu.Unlock()
		return nil, err
	}
	if _, ok := e.finishing[id]; ok {
		e.mu.Unlock()
		return nil, errors.Wrapf(ErrAlreadyFinished, "proposal %d is being finished", id)
	}

	if p.OnChain {
		e.finishing[id] = struct{}{}
		e.mu.Unlock()

		err = e.coordinator.Execute(ctx, p, winner)

		e.mu.Lock()
		delete(e.finishing, id)
		if err != nil {
			e.mu.Unlock()
			e.logger.WithField("proposal", id).Errorf("execute proposal: %s", err)
			return nil, err
		}
	}
	defer e.mu.Unlock()

	batch := e.db.NewBatch()
	if err := e.coordinator.Commit(batch, p); err != nil {
		return nil, err
	}
	batch.Commit()

	e.logger.WithFields(logrus.Fields{
		"proposal":     id,
		"winner":       winner.Index,
		"winner_value": winner.Value,
		"on_chain":     p.OnChain,
	}).Info("finish proposal")

	return winner, nil
}

func (e *Engine) Proposal(id uint64) (*Proposal, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.Get(id)
}

func (e *Engine) ProposalsCount() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.Count()
}

func (e *Engine) ProposalsCountByToken(token common.Address) uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.CountByToken(token)
}

func (e *Engine) ProposalsCountByOwner(owner common.Address) uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.CountByOwner(owner)
}

func (e *Engine) ProposalIDByOwner(owner common.Address, index uint64) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.IDByOwner(owner, index)
}

func (e *Engine) ProposalIDByToken(token common.Address, index uint64) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.IDByToken(token, index)
}

func (e *Engine) VoteOf(id uint64, account common.Address) (*Vote, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.store.Get(id); err != nil {
		return nil, err
	}
	return e.ledger.VoteOf(id, account)
}

func (e *Engine) VoteCount(id uint64) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ledger.VoteCount(id)
}

func (e *Engine) VotesWeight(id uint64, index uint8) (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ledger.VotesWeight(id, index)
}

func (e *Engine) WinnerOption(id uint64) (*Winner, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ledger.WinnerOption(id)
}

func (e *Engine) Close() error {
	return e.db.Close()
}

func (e *Engine) blockNumber(ctx context.Context) (uint64, error) {
	height, err := e.clock.BlockNumber(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "get block number")
	}
	return height, nil
}
