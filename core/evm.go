package core

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
)

const (
	// TokenABI covers the ERC20 balance queries plus the ERC20Snapshot
	// historical balance.
	TokenABI = `[
{"inputs":[{"name":"account","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
{"inputs":[{"name":"account","type":"address"},{"name":"snapshotId","type":"uint256"}],"name":"balanceOfAt","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"}
]`

	// ReceiverABI is the callback a target contract exposes.
	ReceiverABI = `[
{"inputs":[{"name":"executionPayload","type":"bytes32[2]"},{"name":"proposalId","type":"uint256"},{"name":"optionIndex","type":"uint8"},{"name":"optionValue","type":"bytes32"}],"name":"onProposalFinished","outputs":[],"stateMutability":"nonpayable","type":"function"}
]`

	receiverMethod = "onProposalFinished"
)

// revert reasons of snapshot tokens for unknown ids
var snapshotReverts = []string{"nonexistent id", "id is 0"}

var _ TokenBackend = (*EVMToken)(nil)

var _ Receiver = (*EVMReceiver)(nil)

// EVMToken queries token contracts through eth_call.
type EVMToken struct {
	backend bind.ContractCaller
	abi     abi.ABI
}

func NewEVMToken(backend bind.ContractCaller) (*EVMToken, error) {
	parsed, err := abi.JSON(strings.NewReader(TokenABI))
	if err != nil {
		return nil, errors.Wrap(err, "parse token abi")
	}
	return &EVMToken{backend: backend, abi: parsed}, nil
}

func (t *EVMToken) BalanceOf(ctx context.Context, token, account common.Address) (*big.Int, error) {
	return t.call(ctx, token, "balanceOf", account)
}

func (t *EVMToken) BalanceOfAt(ctx context.Context, token, account common.Address, snapshotID uint64) (*big.Int, error) {
	balance, err := t.call(ctx, token, "balanceOfAt", account, new(big.Int).SetUint64(snapshotID))
	if err != nil {
		for _, reason := range snapshotReverts {
			if strings.Contains(err.Error(), reason) {
				return nil, errors.Wrapf(ErrInvalidSnapshot, "token %s snapshot %d", token, snapshotID)
			}
		}
		return nil, err
	}
	return balance, nil
}

func (t *EVMToken) call(ctx context.Context, token common.Address, method string, params ...any) (*big.Int, error) {
	contract := bind.NewBoundContract(token, t.abi, t.backend, nil, nil)

	var out []any
	if err := contract.Call(&bind.CallOpts{Context: ctx}, &out, method, params...); err != nil {
		return nil, err
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("%s returned %d values", method, len(out))
	}
	balance, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%s returned %T", method, out[0])
	}
	return balance, nil
}

type ReceiverBackend interface {
	bind.ContractBackend
	bind.DeployBackend
}

// EVMReceiver sends the finish callback as a signed transaction and waits
// for it to be mined.
type EVMReceiver struct {
	backend ReceiverBackend
	opts    *bind.TransactOpts
	abi     abi.ABI
}

func NewEVMReceiver(backend ReceiverBackend, key *ecdsa.PrivateKey, chainID *big.Int) (*EVMReceiver, error) {
	parsed, err := abi.JSON(strings.NewReader(ReceiverABI))
	if err != nil {
		return nil, errors.Wrap(err, "parse receiver abi")
	}
	opts, err := bind.NewKeyedTransactorWithChainID(key, chainID)
	if err != nil {
		return nil, errors.Wrap(err, "new transactor")
	}
	return &EVMReceiver{
		backend: backend,
		opts:    opts,
		abi:     parsed,
	}, nil
}

// Pack returns the calldata of the callback.
func (r *EVMReceiver) Pack(payload Payload, proposalID uint64, winner Winner) ([]byte, error) {
	return r.abi.Pack(receiverMethod, payloadArg(payload), new(big.Int).SetUint64(proposalID), winner.Index, [32]byte(winner.Value))
}

func (r *EVMReceiver) Execute(ctx context.Context, target common.Address, payload Payload, proposalID uint64, winner Winner) error {
	contract := bind.NewBoundContract(target, r.abi, r.backend, r.backend, r.backend)

	opts := *r.opts
	opts.Context = ctx
	tx, err := contract.Transact(&opts, receiverMethod, payloadArg(payload), new(big.Int).SetUint64(proposalID), winner.Index, [32]byte(winner.Value))
	if err != nil {
		return errors.Wrap(err, "send finish callback")
	}

	receipt, err := bind.WaitMined(ctx, r.backend, tx)
	if err != nil {
		return errors.Wrapf(err, "wait for tx %s", tx.Hash())
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return fmt.Errorf("tx %s reverted", tx.Hash())
	}
	return nil
}

func payloadArg(payload Payload) [2][32]byte {
	return [2][32]byte{payload[0], payload[1]}
}
