package core

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

var _ TokenBackend = (*MockTokens)(nil)

var _ Receiver = (*MockReceiver)(nil)

// MockToken is an in-memory snapshot-capable fungible token.
type MockToken struct {
	mu        sync.Mutex
	Address   common.Address
	balances  map[common.Address]*big.Int
	snapshots []map[common.Address]*big.Int
}

func NewMockToken(address, holder common.Address, supply *big.Int) *MockToken {
	return &MockToken{
		Address: address,
		balances: map[common.Address]*big.Int{
			holder: new(big.Int).Set(supply),
		},
	}
}

func (t *MockToken) Transfer(from, to common.Address, amount *big.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	balance := t.balance(from)
	if balance.Cmp(amount) < 0 {
		return fmt.Errorf("transfer amount %s exceeds balance %s", amount, balance)
	}
	t.balances[from] = new(big.Int).Sub(balance, amount)
	t.balances[to] = new(big.Int).Add(t.balance(to), amount)
	return nil
}

// Snapshot records the current balances and returns the snapshot id,
// starting at 1.
func (t *MockToken) Snapshot() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	snap := make(map[common.Address]*big.Int, len(t.balances))
	for addr, b := range t.balances {
		snap[addr] = new(big.Int).Set(b)
	}
	t.snapshots = append(t.snapshots, snap)
	return uint64(len(t.snapshots))
}

func (t *MockToken) BalanceOf(account common.Address) *big.Int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return new(big.Int).Set(t.balance(account))
}

func (t *MockToken) BalanceOfAt(account common.Address, snapshotID uint64) (*big.Int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if snapshotID == 0 || snapshotID > uint64(len(t.snapshots)) {
		return nil, errors.Wrapf(ErrInvalidSnapshot, "token %s snapshot %d", t.Address, snapshotID)
	}
	b, ok := t.snapshots[snapshotID-1][account]
	if !ok {
		return new(big.Int), nil
	}
	return new(big.Int).Set(b), nil
}

func (t *MockToken) balance(account common.Address) *big.Int {
	b, ok := t.balances[account]
	if !ok {
		return new(big.Int)
	}
	return b
}

// MockTokens resolves token addresses to registered MockTokens.
type MockTokens struct {
	mu     sync.Mutex
	tokens map[common.Address]*MockToken
}

func NewMockTokens(tokens ...*MockToken) *MockTokens {
	m := &MockTokens{tokens: make(map[common.Address]*MockToken)}
	for _, t := range tokens {
		m.tokens[t.Address] = t
	}
	return m
}

func (m *MockTokens) Add(t *MockToken) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[t.Address] = t
}

func (m *MockTokens) BalanceOf(ctx context.Context, token, account common.Address) (*big.Int, error) {
	t, err := m.get(token)
	if err != nil {
		return nil, err
	}
	return t.BalanceOf(account), nil
}

func (m *MockTokens) BalanceOfAt(ctx context.Context, token, account common.Address, snapshotID uint64) (*big.Int, error) {
	t, err := m.get(token)
	if err != nil {
		return nil, err
	}
	return t.BalanceOfAt(account, snapshotID)
}

func (m *MockTokens) get(token common.Address) (*MockToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[token]
	if !ok {
		return nil, fmt.Errorf("unknown token %s", token)
	}
	return t, nil
}

type MockCall struct {
	Target     common.Address
	Payload    Payload
	ProposalID uint64
	Winner     Winner
}

// MockReceiver records every call it gets. Err makes the calls fail and
// Hook runs inside the call, before it is recorded.
type MockReceiver struct {
	mu    sync.Mutex
	calls []MockCall

	Err  error
	Hook func(ctx context.Context, proposalID uint64)
}

func (r *MockReceiver) Execute(ctx context.Context, target common.Address, payload Payload, proposalID uint64, winner Winner) error {
	if r.Hook != nil {
		r.Hook(ctx, proposalID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.calls = append(r.calls, MockCall{
		Target:     target,
		Payload:    payload,
		ProposalID: proposalID,
		Winner:     winner,
	})
	return nil
}

func (r *MockReceiver) Calls() []MockCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]MockCall(nil), r.calls...)
}

// ProposalID returns the id carried by the last call.
func (r *MockReceiver) ProposalID() (uint64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.calls) == 0 {
		return 0, false
	}
	return r.calls[len(r.calls)-1].ProposalID, true
}
