package api

import (
	"encoding/binary"
	"fmt"

	"github.com/axiomesh/axiom-kit/storage"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/sasha-s/go-deadlock"
)

const keyNonce = "api/nonce/%x"

var ErrInvalidNonce = errors.New("INVALID_NONCE")

// NonceStore hands out one strictly increasing nonce per account. A signed
// request is accepted only with the account's next nonce, so a captured
// signature cannot be submitted twice.
type NonceStore struct {
	mu deadlock.Mutex
	db storage.Storage
}

func NewNonceStore(db storage.Storage) *NonceStore {
	return &NonceStore{db: db}
}

// Next is the nonce the next request of account must carry.
func (n *NonceStore) Next(account common.Address) uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.next(account)
}

// Use consumes nonce for account if it is the expected one.
func (n *NonceStore) Use(account common.Address, nonce uint64) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	expected := n.next(account)
	if nonce != expected {
		return errors.Wrapf(ErrInvalidNonce, "%s sent nonce %d, expected %d", account, nonce, expected)
	}

	data := make([]byte, 8)
	binary.BigEndian.PutUint64(data, nonce+1)
	n.db.Put([]byte(fmt.Sprintf(keyNonce, account)), data)
	return nil
}

func (n *NonceStore) next(account common.Address) uint64 {
	data := n.db.Get([]byte(fmt.Sprintf(keyNonce, account)))
	if len(data) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(data)
}
