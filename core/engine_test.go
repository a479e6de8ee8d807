package core

import (
	"context"
	"math/big"
	"math/rand"
	"sync"
	"testing"

	"github.com/axiomesh/axiom-kit/log"
	"github.com/axiomesh/axiom-kit/storage/leveldb"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	tokenAddr    = common.HexToAddress("0x00000000000000000000000000000000000e2c20")
	receiverAddr = common.HexToAddress("0x0000000000000000000000000000000000000a11")
	ipfsData     = "QmfZKFyDJEcTRJsHfEBq28rgnkvmwfu8Yk2GW5d74JFcBU"

	accounts = []common.Address{
		common.HexToAddress("0x1000000000000000000000000000000000000001"),
		common.HexToAddress("0x1000000000000000000000000000000000000002"),
		common.HexToAddress("0x1000000000000000000000000000000000000003"),
		common.HexToAddress("0x1000000000000000000000000000000000000004"),
		common.HexToAddress("0x1000000000000000000000000000000000000005"),
	}

	testPayload = Payload{
		common.HexToHash("0x000000000000000000000000eee28d484628d41a82d01e21d12e2e78d69920da"),
		common.HexToHash("0x0000000000000000000000000000000000000000000000000000000000000001"),
	}
)

// tokens returns n whole tokens with 18 decimals
func tokens(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

func option(n int64) common.Hash {
	return common.BigToHash(big.NewInt(n))
}

func options(values ...int64) Options {
	var o Options
	for i, v := range values {
		o[i] = option(v)
	}
	return o
}

type testEnv struct {
	engine   *Engine
	token    *MockToken
	receiver *MockReceiver
	client   *MockClient
	dir      string
}

func newTestEnv(t *testing.T) *testEnv {
	dir := t.TempDir()
	db, err := leveldb.New(dir)
	require.Nil(t, err)

	env := &testEnv{
		token:    NewMockToken(tokenAddr, accounts[0], tokens(1000000)),
		receiver: &MockReceiver{},
		client:   NewMockClient(100),
		dir:      dir,
	}
	logger := log.New()
	logger.SetLevel(log.ParseLevel("debug"))
	env.engine = NewEngine(db, NewMockTokens(env.token), env.receiver, env.client, logger)
	t.Cleanup(func() {
		env.engine.Close()
	})

	return env
}

func (env *testEnv) request(blocks uint64, snapshotID uint64, quorum int64) *ProposalRequest {
	height, _ := env.client.BlockNumber(context.Background())
	return &ProposalRequest{
		Payload:          testPayload,
		IpfsData:         ipfsData,
		VotingPowerToken: tokenAddr,
		TargetContract:   receiverAddr,
		BlockLimit:       height + blocks,
		Options:          options(10, 20, 30, 40),
		OnChain:          true,
		SnapshotID:       snapshotID,
		MinimumQuorum:    big.NewInt(quorum),
	}
}

func (env *testEnv) addProposal(t *testing.T, creator common.Address, req *ProposalRequest) uint64 {
	id, err := env.engine.AddProposal(context.Background(), creator, req)
	require.Nil(t, err)
	return id
}

func TestAddProposalForDifferentOwners(t *testing.T) {
	env := newTestEnv(t)

	req := env.request(5, 0, 1)
	req.Options = options(1, 2, 3, 4)
	env.addProposal(t, accounts[0], req)
	env.addProposal(t, accounts[1], req)
	env.addProposal(t, accounts[1], req)

	assert.EqualValues(t, 3, env.engine.ProposalsCount())
	assert.EqualValues(t, 3, env.engine.ProposalsCountByToken(tokenAddr))
	assert.EqualValues(t, 0, env.engine.ProposalsCountByToken(receiverAddr))
	assert.EqualValues(t, 1, env.engine.ProposalsCountByOwner(accounts[0]))
	assert.EqualValues(t, 2, env.engine.ProposalsCountByOwner(accounts[1]))

	id, err := env.engine.ProposalIDByOwner(accounts[0], env.engine.ProposalsCountByOwner(accounts[0])-1)
	require.Nil(t, err)
	p, err := env.engine.Proposal(id)
	require.Nil(t, err)

	assert.EqualValues(t, 0, p.ID)
	assert.Equal(t, testPayload, p.Payload)
	assert.Equal(t, ipfsData, p.IpfsData)
	assert.Equal(t, tokenAddr, p.VotingPowerToken)
	assert.Equal(t, receiverAddr, p.TargetContract)
	assert.EqualValues(t, 105, p.BlockLimit)
	for i := 0; i < OptionCount; i++ {
		assert.EqualValues(t, i+1, p.Options[i].Big().Int64())
	}
	assert.True(t, p.OnChain)
	assert.EqualValues(t, 0, p.SnapshotID)
	assert.EqualValues(t, 1, p.MinimumQuorum.Int64())
	assert.Equal(t, accounts[0], p.Creator)
	assert.False(t, p.Finished)
	assert.Equal(t, Open, p.Status())

	id, err = env.engine.ProposalIDByOwner(accounts[1], 1)
	require.Nil(t, err)
	assert.EqualValues(t, 2, id)

	id, err = env.engine.ProposalIDByToken(tokenAddr, 1)
	require.Nil(t, err)
	assert.EqualValues(t, 1, id)

	_, err = env.engine.ProposalIDByOwner(accounts[0], 1)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)

	_, err = env.engine.ProposalIDByOwner(accounts[4], 0)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)

	_, err = env.engine.Proposal(3)
	assert.ErrorIs(t, err, ErrInvalidProposal)
}

func TestAddProposalInvalidQuorum(t *testing.T) {
	env := newTestEnv(t)

	req := env.request(5, 0, -1)
	_, err := env.engine.AddProposal(context.Background(), accounts[0], req)
	assert.ErrorIs(t, err, ErrInvalidQuorum)

	req.MinimumQuorum = new(big.Int).Lsh(big.NewInt(1), 256)
	_, err = env.engine.AddProposal(context.Background(), accounts[0], req)
	assert.ErrorIs(t, err, ErrInvalidQuorum)

	assert.EqualValues(t, 0, env.engine.ProposalsCount())
	assert.EqualValues(t, 0, env.engine.ProposalsCountByOwner(accounts[0]))

	req.MinimumQuorum = nil
	id := env.addProposal(t, accounts[0], req)
	p, err := env.engine.Proposal(id)
	require.Nil(t, err)
	assert.EqualValues(t, 0, p.MinimumQuorum.Sign())
}

func TestVoteWithLiveBalance(t *testing.T) {
	env := newTestEnv(t)
	id := env.addProposal(t, accounts[0], env.request(5, 0, 1))

	v, err := env.engine.Vote(context.Background(), id, accounts[0], option(20))
	require.Nil(t, err)
	assert.True(t, v.HasVoted)

	count, err := env.engine.VoteCount(id)
	require.Nil(t, err)
	assert.EqualValues(t, 1, count)

	v, err = env.engine.VoteOf(id, accounts[0])
	require.Nil(t, err)
	assert.True(t, v.HasVoted)
	assert.EqualValues(t, 1, v.OptionIndex)
	assert.Equal(t, "1000000000000000000000000", v.Weight.String())

	for i := uint8(0); i < OptionCount; i++ {
		w, err := env.engine.VotesWeight(id, i)
		require.Nil(t, err)
		if i == 1 {
			assertWeight(t, tokens(1000000), w)
		} else {
			assert.EqualValues(t, 0, w.Sign())
		}
	}

	winner, err := env.engine.WinnerOption(id)
	require.Nil(t, err)
	assert.EqualValues(t, 1, winner.Index)
	assert.Equal(t, option(20), winner.Value)

	v, err = env.engine.VoteOf(id, accounts[1])
	require.Nil(t, err)
	assert.False(t, v.HasVoted)
	assert.EqualValues(t, 0, v.Weight.Sign())
}

func TestVoteWithSnapshotBalances(t *testing.T) {
	env := newTestEnv(t)

	shares := []int64{1000, 2500, 1000, 9800}
	for i, n := range shares {
		require.Nil(t, env.token.Transfer(accounts[0], accounts[i+1], tokens(n)))
	}
	assertWeight(t, tokens(1000000-1000-2500-1000-9800), env.token.BalanceOf(accounts[0]))

	snapshotID := env.token.Snapshot()
	id := env.addProposal(t, accounts[0], env.request(6, snapshotID, 1))

	// balance changes after the snapshot must not count
	require.Nil(t, env.token.Transfer(accounts[4], accounts[1], tokens(9800)))
	require.Nil(t, env.token.Transfer(accounts[0], accounts[3], tokens(5000)))

	ctx := context.Background()
	_, err := env.engine.Vote(ctx, id, accounts[1], option(20))
	require.Nil(t, err)
	_, err = env.engine.Vote(ctx, id, accounts[2], option(20))
	require.Nil(t, err)
	_, err = env.engine.Vote(ctx, id, accounts[3], option(10))
	require.Nil(t, err)
	_, err = env.engine.Vote(ctx, id, accounts[4], option(40))
	require.Nil(t, err)

	expected := []string{
		"1000000000000000000000",
		"3500000000000000000000",
		"0",
		"9800000000000000000000",
	}
	for i, want := range expected {
		w, err := env.engine.VotesWeight(id, uint8(i))
		require.Nil(t, err)
		assert.Equal(t, want, w.String(), "option %d", i)
	}

	winner, err := env.engine.WinnerOption(id)
	require.Nil(t, err)
	assert.EqualValues(t, 3, winner.Index)

	count, err := env.engine.VoteCount(id)
	require.Nil(t, err)
	assert.EqualValues(t, 4, count)
}

func TestVoteFailures(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := env.addProposal(t, accounts[0], env.request(5, 0, 1))
	require.Nil(t, env.token.Transfer(accounts[0], accounts[1], tokens(1000)))

	_, err := env.engine.Vote(ctx, id+1, accounts[1], option(20))
	assert.ErrorIs(t, err, ErrInvalidProposal)
	assert.Equal(t, "INVALID_PROPOSAL", Reason(err))

	_, err = env.engine.Vote(ctx, id, accounts[1], option(50))
	assert.ErrorIs(t, err, ErrInvalidOption)

	_, err = env.engine.Vote(ctx, id, accounts[1], option(20))
	require.Nil(t, err)

	// a second vote is rejected even for another option, state unchanged
	_, err = env.engine.Vote(ctx, id, accounts[1], option(30))
	assert.ErrorIs(t, err, ErrHasVoted)
	assert.Equal(t, "HAS_VOTED", Reason(err))

	count, err := env.engine.VoteCount(id)
	require.Nil(t, err)
	assert.EqualValues(t, 1, count)
	w, err := env.engine.VotesWeight(id, 2)
	require.Nil(t, err)
	assert.EqualValues(t, 0, w.Sign())
	w, err = env.engine.VotesWeight(id, 1)
	require.Nil(t, err)
	assertWeight(t, tokens(1000), w)

	_, err = env.engine.VotesWeight(id, OptionCount)
	assert.ErrorIs(t, err, ErrInvalidOption)
	_, err = env.engine.VoteCount(id + 1)
	assert.ErrorIs(t, err, ErrInvalidProposal)
	_, err = env.engine.WinnerOption(id + 1)
	assert.ErrorIs(t, err, ErrInvalidProposal)
	_, err = env.engine.VoteOf(id+1, accounts[1])
	assert.ErrorIs(t, err, ErrInvalidProposal)
}

func TestVoteInvalidSnapshot(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := env.addProposal(t, accounts[0], env.request(5, 7, 1))

	_, err := env.engine.Vote(ctx, id, accounts[0], option(10))
	assert.ErrorIs(t, err, ErrInvalidSnapshot)

	v, err := env.engine.VoteOf(id, accounts[0])
	require.Nil(t, err)
	assert.False(t, v.HasVoted)
	count, err := env.engine.VoteCount(id)
	require.Nil(t, err)
	assert.EqualValues(t, 0, count)
}

func TestVotingClosesAtBlockLimit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	require.Nil(t, env.token.Transfer(accounts[0], accounts[1], tokens(1)))
	id := env.addProposal(t, accounts[0], env.request(2, 0, 0))

	env.client.Mine(1)
	_, err := env.engine.Vote(ctx, id, accounts[0], option(10))
	require.Nil(t, err)

	env.client.Mine(1)
	_, err = env.engine.Vote(ctx, id, accounts[1], option(10))
	assert.ErrorIs(t, err, ErrVotingClosed)

	// a repeat voter is told about the recorded vote, not the deadline
	_, err = env.engine.Vote(ctx, id, accounts[0], option(20))
	assert.ErrorIs(t, err, ErrHasVoted)

	count, err := env.engine.VoteCount(id)
	require.Nil(t, err)
	assert.EqualValues(t, 1, count)
}

func TestWinnerTieBreak(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	require.Nil(t, env.token.Transfer(accounts[0], accounts[1], tokens(10)))
	require.Nil(t, env.token.Transfer(accounts[0], accounts[2], tokens(10)))
	id := env.addProposal(t, accounts[0], env.request(5, 0, 0))

	// no votes: every option is zero, the lowest index wins
	winner, err := env.engine.WinnerOption(id)
	require.Nil(t, err)
	assert.EqualValues(t, 0, winner.Index)
	assert.Equal(t, option(10), winner.Value)

	_, err = env.engine.Vote(ctx, id, accounts[1], option(40))
	require.Nil(t, err)
	_, err = env.engine.Vote(ctx, id, accounts[2], option(30))
	require.Nil(t, err)

	for i := 0; i < 3; i++ {
		winner, err = env.engine.WinnerOption(id)
		require.Nil(t, err)
		assert.EqualValues(t, 2, winner.Index)
		assert.Equal(t, option(30), winner.Value)
	}
}

func TestZeroWeightVote(t *testing.T) {
	env := newTestEnv(t)
	id := env.addProposal(t, accounts[0], env.request(5, 0, 0))

	v, err := env.engine.Vote(context.Background(), id, accounts[3], option(30))
	require.Nil(t, err)
	assert.EqualValues(t, 0, v.Weight.Sign())

	count, err := env.engine.VoteCount(id)
	require.Nil(t, err)
	assert.EqualValues(t, 1, count)

	_, err = env.engine.Vote(context.Background(), id, accounts[3], option(30))
	assert.ErrorIs(t, err, ErrHasVoted)
}

func TestVoteWeightFrozen(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	require.Nil(t, env.token.Transfer(accounts[0], accounts[1], tokens(300)))
	id := env.addProposal(t, accounts[0], env.request(5, 0, 0))

	_, err := env.engine.Vote(ctx, id, accounts[1], option(10))
	require.Nil(t, err)

	// moving the tokens after voting does not change the recorded weight
	require.Nil(t, env.token.Transfer(accounts[1], accounts[2], tokens(300)))

	v, err := env.engine.VoteOf(id, accounts[1])
	require.Nil(t, err)
	assertWeight(t, tokens(300), v.Weight)
	w, err := env.engine.VotesWeight(id, 0)
	require.Nil(t, err)
	assertWeight(t, tokens(300), w)
}

func TestTallyMatchesVotes(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	r := rand.New(rand.NewSource(7))

	voters := make([]common.Address, 40)
	for i := range voters {
		voters[i] = common.BigToAddress(big.NewInt(int64(0x5000 + i)))
		require.Nil(t, env.token.Transfer(accounts[0], voters[i], tokens(r.Int63n(1000)+1)))
	}
	id := env.addProposal(t, accounts[0], env.request(50, 0, 0))

	for i := 0; i < 120; i++ {
		voter := voters[r.Intn(len(voters))]
		_, err := env.engine.Vote(ctx, id, voter, option(int64(r.Intn(OptionCount)+1)*10))
		if err != nil {
			assert.ErrorIs(t, err, ErrHasVoted)
		}
	}

	var voted uint64
	sums := make([]*big.Int, OptionCount)
	for i := range sums {
		sums[i] = new(big.Int)
	}
	for _, voter := range voters {
		v, err := env.engine.VoteOf(id, voter)
		require.Nil(t, err)
		if v.HasVoted {
			voted++
			sums[v.OptionIndex].Add(sums[v.OptionIndex], v.Weight)
		}
	}

	count, err := env.engine.VoteCount(id)
	require.Nil(t, err)
	assert.Equal(t, voted, count)
	for i := uint8(0); i < OptionCount; i++ {
		w, err := env.engine.VotesWeight(id, i)
		require.Nil(t, err)
		assert.Equal(t, 0, sums[i].Cmp(w), "option %d", i)
	}
}

func TestConcurrentVotes(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	voters := make([]common.Address, 20)
	for i := range voters {
		voters[i] = common.BigToAddress(big.NewInt(int64(0x7000 + i)))
		require.Nil(t, env.token.Transfer(accounts[0], voters[i], tokens(5)))
	}
	id := env.addProposal(t, accounts[0], env.request(5, 0, 0))

	var wg sync.WaitGroup
	for _, voter := range voters {
		for j := 0; j < 3; j++ {
			wg.Add(1)
			go func(voter common.Address) {
				defer wg.Done()
				_, _ = env.engine.Vote(ctx, id, voter, option(20))
			}(voter)
		}
	}
	wg.Wait()

	count, err := env.engine.VoteCount(id)
	require.Nil(t, err)
	assert.EqualValues(t, len(voters), count)
	w, err := env.engine.VotesWeight(id, 1)
	require.Nil(t, err)
	assertWeight(t, tokens(5*int64(len(voters))), w)
}

func TestEngineReopen(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := env.addProposal(t, accounts[0], env.request(1, 0, 1))
	_, err := env.engine.Vote(ctx, id, accounts[0], option(30))
	require.Nil(t, err)
	env.client.Mine(1)
	_, err = env.engine.Finish(ctx, id)
	require.Nil(t, err)
	require.Nil(t, env.engine.Close())

	db, err := leveldb.New(env.dir)
	require.Nil(t, err)
	engine := NewEngine(db, NewMockTokens(env.token), env.receiver, env.client, log.New())
	env.engine = engine

	assert.EqualValues(t, 1, engine.ProposalsCount())
	assert.EqualValues(t, 1, engine.ProposalsCountByOwner(accounts[0]))
	p, err := engine.Proposal(id)
	require.Nil(t, err)
	assert.True(t, p.Finished)

	v, err := engine.VoteOf(id, accounts[0])
	require.Nil(t, err)
	assert.EqualValues(t, 2, v.OptionIndex)
	w, err := engine.VotesWeight(id, 2)
	require.Nil(t, err)
	assertWeight(t, tokens(1000000), w)

	id2 := env.addProposal(t, accounts[1], env.request(1, 0, 1))
	assert.EqualValues(t, 1, id2)
}

func assertWeight(t *testing.T, want, got *big.Int) {
	t.Helper()
	require.NotNil(t, got)
	assert.Equal(t, want.String(), got.String())
}
