package core

import (
	"math/big"
	"testing"

	"github.com/axiomesh/axiom-kit/storage/leveldb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProposalStoreBatch(t *testing.T) {
	db, err := leveldb.New(t.TempDir())
	require.Nil(t, err)
	defer db.Close()
	s := NewProposalStore(db)

	req := &ProposalRequest{
		VotingPowerToken: tokenAddr,
		BlockLimit:       5,
		Options:          options(1, 2, 3, 4),
		MinimumQuorum:    big.NewInt(3),
	}

	// nothing is visible before the batch commits
	batch := db.NewBatch()
	p, err := s.Add(batch, accounts[0], req)
	require.Nil(t, err)
	assert.EqualValues(t, 0, p.ID)
	assert.EqualValues(t, 0, s.Count())
	_, err = s.Get(0)
	assert.ErrorIs(t, err, ErrInvalidProposal)

	batch.Commit()
	assert.EqualValues(t, 1, s.Count())
	assert.EqualValues(t, 1, s.CountByToken(tokenAddr))
	assert.EqualValues(t, 1, s.CountByOwner(accounts[0]))

	// the request is copied, later changes do not reach the record
	req.MinimumQuorum.SetInt64(99)
	got, err := s.Get(0)
	require.Nil(t, err)
	assert.EqualValues(t, 3, got.MinimumQuorum.Int64())
	assert.Equal(t, options(1, 2, 3, 4), got.Options)

	batch = db.NewBatch()
	require.Nil(t, s.MarkFinished(batch, got))
	batch.Commit()

	got, err = s.Get(0)
	require.Nil(t, err)
	assert.True(t, got.Finished)
	assert.EqualValues(t, 1, s.Count())
}

func TestProposalOptionIndex(t *testing.T) {
	p := &Proposal{Options: options(5, 6, 6, 8)}

	i, ok := p.OptionIndex(option(6))
	assert.True(t, ok)
	assert.EqualValues(t, 1, i)

	i, ok = p.OptionIndex(option(8))
	assert.True(t, ok)
	assert.EqualValues(t, 3, i)

	_, ok = p.OptionIndex(option(7))
	assert.False(t, ok)
}
