package core

import (
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/axiomesh/axiom-kit/storage"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/pkg/errors"
)

const (
	keyProposalCount = "pc"
	keyProposalBody  = "p%d"
	keyTokenCount    = "tc%x"
	keyTokenIndex    = "t%x/%d"
	keyOwnerCount    = "oc%x"
	keyOwnerIndex    = "o%x/%d"
)

// ProposalStore owns the append-only proposal collection and its by-token
// and by-owner indices. Writes go through a batch the caller commits.
type ProposalStore struct {
	db storage.Storage
}

func NewProposalStore(db storage.Storage) *ProposalStore {
	return &ProposalStore{db: db}
}

// Add stages a new proposal with the next sequential id.
func (s *ProposalStore) Add(batch storage.Batch, creator common.Address, req *ProposalRequest) (*Proposal, error) {
	quorum := new(big.Int)
	if req.MinimumQuorum != nil {
		quorum.Set(req.MinimumQuorum)
	}
	if quorum.Sign() < 0 || quorum.BitLen() > 256 {
		return nil, errors.Wrapf(ErrInvalidQuorum, "minimum quorum %s", quorum)
	}

	id := s.Count()
	p := &Proposal{
		ID:               id,
		Payload:          req.Payload,
		IpfsData:         req.IpfsData,
		VotingPowerToken: req.VotingPowerToken,
		TargetContract:   req.TargetContract,
		BlockLimit:       req.BlockLimit,
		Options:          req.Options,
		OnChain:          req.OnChain,
		SnapshotID:       req.SnapshotID,
		MinimumQuorum:    quorum,
		Creator:          creator,
	}
	if err := s.put(batch, p); err != nil {
		return nil, err
	}
	batch.Put([]byte(keyProposalCount), uint64Bytes(id+1))

	tokenCount := s.CountByToken(p.VotingPowerToken)
	batch.Put([]byte(fmt.Sprintf(keyTokenIndex, p.VotingPowerToken, tokenCount)), uint64Bytes(id))
	batch.Put([]byte(fmt.Sprintf(keyTokenCount, p.VotingPowerToken)), uint64Bytes(tokenCount+1))

	ownerCount := s.CountByOwner(creator)
	batch.Put([]byte(fmt.Sprintf(keyOwnerIndex, creator, ownerCount)), uint64Bytes(id))
	batch.Put([]byte(fmt.Sprintf(keyOwnerCount, creator)), uint64Bytes(ownerCount+1))

	return p, nil
}

func (s *ProposalStore) Get(id uint64) (*Proposal, error) {
	data := s.db.Get([]byte(fmt.Sprintf(keyProposalBody, id)))
	if data == nil {
		return nil, errors.Wrapf(ErrInvalidProposal, "proposal %d", id)
	}

	p := &Proposal{}
	if err := rlp.DecodeBytes(data, p); err != nil {
		return nil, errors.Wrapf(err, "decode proposal %d", id)
	}
	if p.MinimumQuorum == nil {
		p.MinimumQuorum = new(big.Int)
	}
	return p, nil
}

func (s *ProposalStore) Count() uint64 {
	return getUint64(s.db, keyProposalCount)
}

func (s *ProposalStore) CountByToken(token common.Address) uint64 {
	return getUint64(s.db, fmt.Sprintf(keyTokenCount, token))
}

func (s *ProposalStore) CountByOwner(owner common.Address) uint64 {
	return getUint64(s.db, fmt.Sprintf(keyOwnerCount, owner))
}

func (s *ProposalStore) IDByOwner(owner common.Address, index uint64) (uint64, error) {
	if index >= s.CountByOwner(owner) {
		return 0, errors.Wrapf(ErrIndexOutOfRange, "owner %s index %d", owner, index)
	}
	return getUint64(s.db, fmt.Sprintf(keyOwnerIndex, owner, index)), nil
}

func (s *ProposalStore) IDByToken(token common.Address, index uint64) (uint64, error) {
	if index >= s.CountByToken(token) {
		return 0, errors.Wrapf(ErrIndexOutOfRange, "token %s index %d", token, index)
	}
	return getUint64(s.db, fmt.Sprintf(keyTokenIndex, token, index)), nil
}

// MarkFinished stages the single mutation a proposal ever sees.
func (s *ProposalStore) MarkFinished(batch storage.Batch, p *Proposal) error {
	p.Finished = true
	return s.put(batch, p)
}

func (s *ProposalStore) put(batch storage.Batch, p *Proposal) error {
	data, err := rlp.EncodeToBytes(p)
	if err != nil {
		return errors.Wrapf(err, "encode proposal %d", p.ID)
	}
	batch.Put([]byte(fmt.Sprintf(keyProposalBody, p.ID)), data)
	return nil
}

func getUint64(db storage.Storage, key string) uint64 {
	data := db.Get([]byte(key))
	if len(data) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(data)
}

func uint64Bytes(v uint64) []byte {
	data := make([]byte, 8)
	binary.BigEndian.PutUint64(data, v)
	return data
}
