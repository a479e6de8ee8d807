package core

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

// WeightResolver is the only place voting power touches the token.
type WeightResolver struct {
	tokens TokenBackend
}

func NewWeightResolver(tokens TokenBackend) *WeightResolver {
	return &WeightResolver{tokens: tokens}
}

// Weight returns the live balance of account when snapshotID is 0 and the
// balance recorded at snapshotID otherwise.
func (r *WeightResolver) Weight(ctx context.Context, token, account common.Address, snapshotID uint64) (*big.Int, error) {
	var (
		balance *big.Int
		err     error
	)
	if snapshotID == 0 {
		balance, err = r.tokens.BalanceOf(ctx, token, account)
	} else {
		balance, err = r.tokens.BalanceOfAt(ctx, token, account, snapshotID)
	}
	if err != nil {
		if errors.Is(err, ErrInvalidSnapshot) {
			return nil, err
		}
		return nil, errors.Wrapf(err, "query balance of %s on token %s", account, token)
	}

	if balance == nil {
		return nil, errors.Errorf("token %s returned no balance for %s", token, account)
	}
	if balance.Sign() < 0 || balance.BitLen() > 256 {
		return nil, errors.Wrapf(ErrWeightOverflow, "balance %s of %s", balance, account)
	}

	return new(big.Int).Set(balance), nil
}
