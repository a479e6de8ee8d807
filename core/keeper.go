package core

import (
	"context"
	"sync"
	"time"

	"github.com/Rican7/retry"
	"github.com/Rican7/retry/backoff"
	"github.com/Rican7/retry/strategy"
	"github.com/axiomesh/axiom-kit/storage"
	"github.com/axiomesh/governor/repo"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	HeadChanMaxSize = 1000

	nextProposalKey = "keeper/nextProposal"
)

// Keeper follows the chain head and finishes every proposal whose block
// limit has been reached.
type Keeper struct {
	Ctx    context.Context
	Client Client
	Engine *Engine
	Logger logrus.FieldLogger
	DB     storage.Storage
	Config *repo.Config

	// Redial replaces Client when the head subscription breaks, nil keeps it
	Redial func(ctx context.Context) (Client, error)

	HeadChan chan *types.Header
	HeadSub  ethereum.Subscription

	// proposals below next are finished or can never be finished
	next      uint64
	abandoned map[uint64]struct{}

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewKeeper(ctx context.Context, config *repo.Config, engine *Engine, client Client, db storage.Storage, logger logrus.FieldLogger) *Keeper {
	ctx, cancel := context.WithCancel(ctx)

	k := &Keeper{
		Ctx:       ctx,
		Client:    client,
		Engine:    engine,
		Logger:    logger.WithField("module", "keeper"),
		DB:        db,
		Config:    config,
		HeadChan:  make(chan *types.Header, HeadChanMaxSize),
		abandoned: make(map[uint64]struct{}),
		cancel:    cancel,
	}
	k.next = getUint64(db, nextProposalKey)

	return k
}

func (k *Keeper) Start() error {
	if err := k.sweepHistory(); err != nil {
		return err
	}

	if err := k.subscribeHead(); err != nil {
		return err
	}

	k.wg.Add(1)
	go k.listenHeads()

	return nil
}

func (k *Keeper) Stop() error {
	k.cancel()
	k.wg.Wait()
	if k.HeadSub != nil {
		k.HeadSub.Unsubscribe()
	}
	return nil
}

// Next is the lowest proposal id the keeper still watches.
func (k *Keeper) Next() uint64 {
	return getUint64(k.DB, nextProposalKey)
}

func (k *Keeper) sweepHistory() error {
	height, err := k.Client.BlockNumber(k.Ctx)
	if err != nil {
		return errors.Wrap(err, "get block number")
	}

	k.Logger.Debugf("sweep history from proposal %d at block %d", k.next, height)
	k.sweep(height)
	return nil
}

func (k *Keeper) subscribeHead() error {
	var err error
	k.HeadSub, err = k.Client.SubscribeNewHead(k.Ctx, k.HeadChan)
	return err
}

func (k *Keeper) listenHeads() {
	defer k.wg.Done()
	k.Logger.Info("listen heads")

	for {
		select {
		case <-k.Ctx.Done():
			k.Logger.Info("context done")
			return
		case err, ok := <-k.HeadSub.Err():
			if !ok {
				err = errors.New("subscription closed")
			}
			k.Logger.Errorf("head subscription: %s", err)
			if err := k.reconnect(); err != nil {
				if k.Ctx.Err() != nil {
					return
				}
				k.Logger.WithFields(logrus.Fields{
					"next_proposal": k.next,
					"retry_limit":   k.Config.Keeper.RetryLimit,
				}).Errorf("keeper stopped, proposals are no longer finished automatically: reconnect: %s", err)
				return
			}
		case header := <-k.HeadChan:
			k.Logger.Debugf("new head: %d", header.Number.Uint64())
			k.sweep(header.Number.Uint64())
		}
	}
}

// sweep finishes due proposals from the cursor on and moves the cursor past
// the leading run of proposals that need no more attention.
func (k *Keeper) sweep(height uint64) {
	count := k.Engine.ProposalsCount()
	advance := true
	next := k.next

	for id := k.next; id < count; id++ {
		if k.Ctx.Err() != nil {
			break
		}

		p, err := k.Engine.Proposal(id)
		if err != nil {
			k.Logger.Errorf("load proposal %d: %s", id, err)
			advance = false
			continue
		}

		_, done := k.abandoned[id]
		done = done || p.Finished
		if !done && height >= p.BlockLimit {
			done = k.finish(id)
		}

		if done && advance {
			next = id + 1
			delete(k.abandoned, id)
		} else {
			advance = false
		}
	}

	if next != k.next {
		k.next = next
		k.DB.Put([]byte(nextProposalKey), uint64Bytes(next))
	}
}

// finish reports whether the proposal needs no further attempts.
func (k *Keeper) finish(id uint64) bool {
	logger := k.Logger.WithField("proposal", id)

	// only a failed external call is worth another attempt
	var final error
	action := func(attempt uint) error {
		_, err := k.Engine.Finish(k.Ctx, id)
		if errors.Is(err, ErrExecutionFailed) {
			logger.Warnf("finish attempt %d: %s", attempt, err)
			return err
		}
		final = err
		return nil
	}

	err := retry.Retry(action, strategy.Limit(k.Config.Keeper.RetryLimit), k.backoff())
	if err == nil {
		err = final
	}
	switch {
	case k.Ctx.Err() != nil && err != nil:
		logger.Debugf("keeper stopped before finishing: %s", err)
		return false
	case err == nil:
		logger.Info("proposal finished by keeper")
		return true
	case errors.Is(err, ErrAlreadyFinished):
		return true
	case errors.Is(err, ErrInsufficientQuorum):
		logger.Warnf("abandon proposal: %s", err)
		k.abandoned[id] = struct{}{}
		return true
	default:
		logger.Errorf("finish proposal: %s", err)
		return false
	}
}

func (k *Keeper) reconnect() error {
	action := func(attempt uint) error {
		if k.Redial != nil {
			client, err := k.Redial(k.Ctx)
			if err != nil {
				return err
			}
			k.Client = client
		}
		return k.subscribeHead()
	}

	if err := retry.Retry(action, strategy.Limit(k.Config.Keeper.RetryLimit), k.backoff()); err != nil {
		return err
	}
	if err := k.Ctx.Err(); err != nil {
		return err
	}

	k.Logger.Info("reconnect successful")
	return nil
}

// backoff waits a Fibonacci interval between attempts and gives up as soon
// as the keeper is stopped. The first attempt always runs.
func (k *Keeper) backoff() strategy.Strategy {
	interval := k.Config.Keeper.RetryInterval
	if interval <= 0 {
		interval = time.Second
	}
	wait := backoff.Fibonacci(interval)

	return func(attempt uint) bool {
		if attempt == 0 {
			return true
		}
		timer := time.NewTimer(wait(attempt))
		defer timer.Stop()
		select {
		case <-k.Ctx.Done():
			return false
		case <-timer.C:
			return true
		}
	}
}
