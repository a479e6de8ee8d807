package core

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// TokenBackend answers balance queries against fungible token contracts.
// BalanceOfAt must return an error wrapping ErrInvalidSnapshot when the
// token has no such snapshot.
type TokenBackend interface {
	BalanceOf(ctx context.Context, token, account common.Address) (*big.Int, error)

	BalanceOfAt(ctx context.Context, token, account common.Address, snapshotID uint64) (*big.Int, error)
}

// Receiver performs the single external call made when an on-chain
// proposal finishes.
type Receiver interface {
	Execute(ctx context.Context, target common.Address, payload Payload, proposalID uint64, winner Winner) error
}

// BlockClock is the external block height counter used for deadlines.
type BlockClock interface {
	BlockNumber(ctx context.Context) (uint64, error)
}

// Client is the chain connection the keeper follows.
type Client interface {
	BlockClock

	SubscribeNewHead(ctx context.Context, ch chan<- *types.Header) (ethereum.Subscription, error)
}

var _ Client = (*MockClient)(nil)

// MockClient is an in-memory chain head. Mine advances it and notifies
// subscribers.
type MockClient struct {
	mu     sync.Mutex
	height uint64
	subs   []*MockSubscription
}

func NewMockClient(height uint64) *MockClient {
	return &MockClient{height: height}
}

func (mc *MockClient) BlockNumber(ctx context.Context) (uint64, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return mc.height, nil
}

func (mc *MockClient) SubscribeNewHead(ctx context.Context, ch chan<- *types.Header) (ethereum.Subscription, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	sub := &MockSubscription{
		ch:    ch,
		errCh: make(chan error, 1),
	}
	mc.subs = append(mc.subs, sub)
	return sub, nil
}

// Mine advances the head by n blocks and returns the new height.
func (mc *MockClient) Mine(n uint64) uint64 {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	for i := uint64(0); i < n; i++ {
		mc.height++
		header := &types.Header{Number: new(big.Int).SetUint64(mc.height)}
		for _, sub := range mc.subs {
			sub.deliver(header)
		}
	}
	return mc.height
}

// Fail ends every live subscription with err.
func (mc *MockClient) Fail(err error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	for _, sub := range mc.subs {
		sub.fail(err)
	}
	mc.subs = nil
}

type MockSubscription struct {
	mu           sync.Mutex
	ch           chan<- *types.Header
	errCh        chan error
	unsubscribed bool
}

func (ms *MockSubscription) deliver(header *types.Header) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if ms.unsubscribed {
		return
	}
	select {
	case ms.ch <- header:
	default:
	}
}

func (ms *MockSubscription) fail(err error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if ms.unsubscribed {
		return
	}
	ms.unsubscribed = true
	ms.errCh <- err
}

func (ms *MockSubscription) Unsubscribe() {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if !ms.unsubscribed {
		ms.unsubscribed = true
		close(ms.errCh)
	}
}

func (ms *MockSubscription) Err() <-chan error {
	return ms.errCh
}
