package core

import (
	"context"
	"fmt"

	"github.com/axiomesh/axiom-kit/storage"
	"github.com/pkg/errors"
)

// Coordinator gates and performs finalization. A proposal moves from Open
// to Finished exactly once.
type Coordinator struct {
	store    *ProposalStore
	ledger   *VotingLedger
	receiver Receiver
}

func NewCoordinator(store *ProposalStore, ledger *VotingLedger, receiver Receiver) *Coordinator {
	return &Coordinator{
		store:    store,
		ledger:   ledger,
		receiver: receiver,
	}
}

// Prepare checks every finish precondition at height and resolves the
// winner. Nothing is written.
func (c *Coordinator) Prepare(height uint64, id uint64) (*Proposal, *Winner, error) {
	p, err := c.store.Get(id)
	if err != nil {
		return nil, nil, err
	}
	if p.Finished {
		return nil, nil, errors.Wrapf(ErrAlreadyFinished, "proposal %d", id)
	}
	if height < p.BlockLimit {
		return nil, nil, errors.Wrapf(ErrTooEarly, "proposal %d ends at block %d, current block %d", id, p.BlockLimit, height)
	}

	turnout, err := c.ledger.TotalWeight(id)
	if err != nil {
		return nil, nil, err
	}
	if turnout.Cmp(p.MinimumQuorum) < 0 {
		return nil, nil, errors.Wrapf(ErrInsufficientQuorum, "proposal %d turnout %s, quorum %s", id, turnout, p.MinimumQuorum)
	}

	winner, err := c.ledger.WinnerOption(id)
	if err != nil {
		return nil, nil, err
	}
	return p, winner, nil
}

// Execute makes the one external call of an on-chain proposal.
func (c *Coordinator) Execute(ctx context.Context, p *Proposal, winner *Winner) error {
	if !p.OnChain {
		return nil
	}
	if c.receiver == nil {
		return errors.Wrapf(ErrExecutionFailed, "proposal %d: no receiver configured", p.ID)
	}
	if err := c.receiver.Execute(ctx, p.TargetContract, p.Payload, p.ID, *winner); err != nil {
		return fmt.Errorf("%w: proposal %d target %s: %w", ErrExecutionFailed, p.ID, p.TargetContract, err)
	}
	return nil
}

func (c *Coordinator) Commit(batch storage.Batch, p *Proposal) error {
	return c.store.MarkFinished(batch, p)
}
