package api

import (
	"math/big"
	"net/http"
	"strconv"

	"github.com/axiomesh/governor/core"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/samber/lo"
)

type proposalBody struct {
	ExecutionPayload core.Payload   `json:"execution_payload"`
	IpfsData         string         `json:"ipfs_data"`
	VotingPowerToken common.Address `json:"voting_power_token"`
	TargetContract   common.Address `json:"target_contract"`
	BlockLimit       uint64         `json:"block_limit"`
	Options          []common.Hash  `json:"options"`
	OnChain          bool           `json:"on_chain"`
	SnapshotID       uint64         `json:"snapshot_id"`
	// decimal or 0x prefixed hex
	MinimumQuorum string `json:"minimum_quorum"`
}

type voteBody struct {
	Option common.Hash `json:"option"`
}

type proposalView struct {
	ID               uint64         `json:"id"`
	ExecutionPayload core.Payload   `json:"execution_payload"`
	IpfsData         string         `json:"ipfs_data"`
	VotingPowerToken common.Address `json:"voting_power_token"`
	TargetContract   common.Address `json:"target_contract"`
	BlockLimit       uint64         `json:"block_limit"`
	Options          []string       `json:"options"`
	OnChain          bool           `json:"on_chain"`
	SnapshotID       uint64         `json:"snapshot_id"`
	MinimumQuorum    string         `json:"minimum_quorum"`
	Creator          common.Address `json:"creator"`
	Finished         bool           `json:"finished"`
	Status           string         `json:"status"`
}

type voteView struct {
	HasVoted    bool   `json:"has_voted"`
	OptionIndex uint8  `json:"option_index"`
	Weight      string `json:"weight"`
}

type winnerView struct {
	OptionIndex uint8       `json:"option_index"`
	OptionValue common.Hash `json:"option_value"`
}

func newProposalView(p *core.Proposal) *proposalView {
	return &proposalView{
		ID:               p.ID,
		ExecutionPayload: p.Payload,
		IpfsData:         p.IpfsData,
		VotingPowerToken: p.VotingPowerToken,
		TargetContract:   p.TargetContract,
		BlockLimit:       p.BlockLimit,
		Options: lo.Map(p.Options[:], func(o common.Hash, _ int) string {
			return o.Hex()
		}),
		OnChain:       p.OnChain,
		SnapshotID:    p.SnapshotID,
		MinimumQuorum: p.MinimumQuorum.String(),
		Creator:       p.Creator,
		Finished:      p.Finished,
		Status:        p.Status().String(),
	}
}

func newVoteView(v *core.Vote) *voteView {
	return &voteView{
		HasVoted:    v.HasVoted,
		OptionIndex: v.OptionIndex,
		Weight:      v.Weight.String(),
	}
}

func (s *Server) addProposal(c *gin.Context) {
	body := &proposalBody{}
	if err := c.ShouldBindJSON(body); err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}
	if len(body.Options) != core.OptionCount {
		abort(c, http.StatusBadRequest, errors.Errorf("options must contain exactly %d entries", core.OptionCount))
		return
	}

	quorum := new(big.Int)
	if body.MinimumQuorum != "" {
		var ok bool
		if quorum, ok = math.ParseBig256(body.MinimumQuorum); !ok {
			abort(c, http.StatusBadRequest, errors.Wrapf(core.ErrInvalidQuorum, "minimum quorum %q", body.MinimumQuorum))
			return
		}
	}

	req := &core.ProposalRequest{
		Payload:          body.ExecutionPayload,
		IpfsData:         body.IpfsData,
		VotingPowerToken: body.VotingPowerToken,
		TargetContract:   body.TargetContract,
		BlockLimit:       body.BlockLimit,
		OnChain:          body.OnChain,
		SnapshotID:       body.SnapshotID,
		MinimumQuorum:    quorum,
	}
	copy(req.Options[:], body.Options)

	id, err := s.engine.AddProposal(c.Request.Context(), callerOf(c), req)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id})
}

func (s *Server) proposal(c *gin.Context) {
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}
	p, err := s.engine.Proposal(id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, newProposalView(p))
}

func (s *Server) proposalsCount(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"count": s.engine.ProposalsCount()})
}

func (s *Server) proposalsCountByToken(c *gin.Context) {
	token, ok := addressParam(c, "token")
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": s.engine.ProposalsCountByToken(token)})
}

func (s *Server) proposalIDByToken(c *gin.Context) {
	token, ok := addressParam(c, "token")
	if !ok {
		return
	}
	index, ok := uintParam(c, "index")
	if !ok {
		return
	}
	id, err := s.engine.ProposalIDByToken(token, index)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id})
}

func (s *Server) proposalsCountByOwner(c *gin.Context) {
	owner, ok := addressParam(c, "owner")
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": s.engine.ProposalsCountByOwner(owner)})
}

func (s *Server) proposalIDByOwner(c *gin.Context) {
	owner, ok := addressParam(c, "owner")
	if !ok {
		return
	}
	index, ok := uintParam(c, "index")
	if !ok {
		return
	}
	id, err := s.engine.ProposalIDByOwner(owner, index)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id})
}

func (s *Server) castVote(c *gin.Context) {
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}
	body := &voteBody{}
	if err := c.ShouldBindJSON(body); err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}

	v, err := s.engine.Vote(c.Request.Context(), id, callerOf(c), body.Option)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, newVoteView(v))
}

func (s *Server) vote(c *gin.Context) {
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}
	account, ok := addressParam(c, "account")
	if !ok {
		return
	}
	v, err := s.engine.VoteOf(id, account)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, newVoteView(v))
}

func (s *Server) voteCount(c *gin.Context) {
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}
	count, err := s.engine.VoteCount(id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": count})
}

func (s *Server) votesWeight(c *gin.Context) {
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}
	index, err := strconv.ParseUint(c.Param("index"), 10, 8)
	if err != nil {
		abort(c, http.StatusBadRequest, errors.Wrapf(core.ErrInvalidOption, "option index %q", c.Param("index")))
		return
	}
	w, err := s.engine.VotesWeight(id, uint8(index))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"weight": w.String()})
}

func (s *Server) winner(c *gin.Context) {
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}
	w, err := s.engine.WinnerOption(id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, &winnerView{OptionIndex: w.Index, OptionValue: w.Value})
}

func (s *Server) finish(c *gin.Context) {
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}
	w, err := s.engine.Finish(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, &winnerView{OptionIndex: w.Index, OptionValue: w.Value})
}

func (s *Server) nonce(c *gin.Context) {
	account, ok := addressParam(c, "account")
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"nonce": s.nonces.Next(account)})
}

func uintParam(c *gin.Context, name string) (uint64, bool) {
	v, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil {
		abort(c, http.StatusBadRequest, errors.Wrapf(err, "parse %s", name))
		return 0, false
	}
	return v, true
}

func addressParam(c *gin.Context, name string) (common.Address, bool) {
	v := c.Param(name)
	if !common.IsHexAddress(v) {
		abort(c, http.StatusBadRequest, errors.Errorf("%s %q is not an address", name, v))
		return common.Address{}, false
	}
	return common.HexToAddress(v), true
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, core.ErrInvalidProposal), errors.Is(err, core.ErrIndexOutOfRange):
		return http.StatusNotFound
	case errors.Is(err, core.ErrInvalidOption), errors.Is(err, core.ErrInvalidSnapshot), errors.Is(err, core.ErrInvalidQuorum):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrHasVoted), errors.Is(err, core.ErrVotingClosed), errors.Is(err, core.ErrTooEarly),
		errors.Is(err, core.ErrAlreadyFinished), errors.Is(err, core.ErrInsufficientQuorum):
		return http.StatusConflict
	case errors.Is(err, core.ErrWeightOverflow):
		return http.StatusUnprocessableEntity
	case errors.Is(err, core.ErrExecutionFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func fail(c *gin.Context, err error) {
	abort(c, statusOf(err), err)
}

func abort(c *gin.Context, status int, err error) {
	reason := core.Reason(err)
	for _, e := range []error{ErrInvalidSignature, ErrInvalidNonce} {
		if reason == "" && errors.Is(err, e) {
			reason = e.Error()
		}
	}
	if reason == "" {
		reason = http.StatusText(status)
	}
	c.AbortWithStatusJSON(status, gin.H{
		"error":   reason,
		"message": err.Error(),
	})
}
