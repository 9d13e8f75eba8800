package api

import (
	"net/http"

	"staking-ledger/internal/domain"
	"staking-ledger/internal/feed"
	"staking-ledger/internal/reporting"
	"staking-ledger/internal/staking"
)

// PoolResponse is the JSON form of a pool.
type PoolResponse struct {
	PoolID        uint64        `json:"pool_id"`
	RewardRate    uint64        `json:"reward_rate"`
	RatePercent   string        `json:"rate_percent"`
	LockPeriod    int64         `json:"lock_period"`
	TotalStaked   uint64        `json:"total_staked"`
	TotalRewards  uint64        `json:"total_rewards"`
	RewardsFunded uint64        `json:"rewards_funded"`
	RewardReserve uint64        `json:"reward_reserve"`
	Authority     domain.Pubkey `json:"authority"`
	TokenMint     domain.Pubkey `json:"token_mint"`
	Address       domain.Pubkey `json:"address"`
	Vault         string        `json:"vault"`
	Bump          uint8         `json:"bump"`
	CreatedAt     int64         `json:"created_at"`
}

func newPoolResponse(p *domain.Pool) PoolResponse {
	return PoolResponse{
		PoolID:        p.PoolID,
		RewardRate:    p.RewardRate,
		RatePercent:   reporting.RatePercent(p.RewardRate).String(),
		LockPeriod:    p.LockPeriod,
		TotalStaked:   p.TotalStaked,
		TotalRewards:  p.TotalRewards,
		RewardsFunded: p.RewardsFunded,
		RewardReserve: p.RewardReserve(),
		Authority:     p.Authority,
		TokenMint:     p.TokenMint,
		Address:       p.Address,
		Vault:         p.Vault().String(),
		Bump:          p.Bump,
		CreatedAt:     p.CreatedAt,
	}
}

// PositionResponse is the JSON form of a position.
type PositionResponse struct {
	PoolID         uint64        `json:"pool_id"`
	User           domain.Pubkey `json:"user"`
	Address        domain.Pubkey `json:"address"`
	Amount         uint64        `json:"amount"`
	Active         bool          `json:"active"`
	StakeTime      int64         `json:"stake_time"`
	RewardsClaimed uint64        `json:"rewards_claimed"`
	TotalClaimed   uint64        `json:"total_claimed"`
	UpdatedAt      int64         `json:"updated_at"`
	PendingRewards *uint64       `json:"pending_rewards,omitempty"`
}

func newPositionResponse(p *domain.Position) PositionResponse {
	return PositionResponse{
		PoolID:         p.PoolID,
		User:           p.User,
		Address:        p.Address,
		Amount:         p.Amount,
		Active:         p.IsActive(),
		StakeTime:      p.StakeTime,
		RewardsClaimed: p.RewardsClaimed,
		TotalClaimed:   p.TotalClaimed,
		UpdatedAt:      p.UpdatedAt,
	}
}

// CreatePoolRequest is the body of POST /pools.
type CreatePoolRequest struct {
	PoolID     uint64        `json:"pool_id"`
	RewardRate uint64        `json:"reward_rate"`
	LockPeriod int64         `json:"lock_period"`
	TokenMint  domain.Pubkey `json:"token_mint"`
	Authority  domain.Pubkey `json:"authority"`
}

// AmountRequest is the body of POST /pools/{id}/stake and /fund.
type AmountRequest struct {
	User   domain.Pubkey `json:"user"`
	Amount uint64        `json:"amount"`
}

// UserRequest is the body of POST /pools/{id}/unstake and /claim.
type UserRequest struct {
	User domain.Pubkey `json:"user"`
}

// UnstakeResponse is the result of POST /pools/{id}/unstake.
type UnstakeResponse struct {
	Withdrawn        uint64           `json:"withdrawn"`
	RewardsPaid      uint64           `json:"rewards_paid"`
	RewardsForfeited uint64           `json:"rewards_forfeited"`
	Position         PositionResponse `json:"position"`
}

// ClaimResponse is the result of POST /pools/{id}/claim.
type ClaimResponse struct {
	RewardsPaid uint64 `json:"rewards_paid"`
}

func (s *Server) handleCreatePool(w http.ResponseWriter, r *http.Request) error {
	var req CreatePoolRequest
	if err := decodeBody(r, &req); err != nil {
		return err
	}
	if req.TokenMint.IsZero() {
		return badRequest("token_mint is required")
	}
	if req.Authority.IsZero() {
		return badRequest("authority is required")
	}

	pool, err := s.engine.CreatePool(r.Context(), staking.CreatePoolRequest{
		PoolID:     req.PoolID,
		RewardRate: req.RewardRate,
		LockPeriod: req.LockPeriod,
		TokenMint:  req.TokenMint,
		Authority:  req.Authority,
	})
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusCreated, newPoolResponse(pool))
	return nil
}

func (s *Server) handleListPools(w http.ResponseWriter, r *http.Request) error {
	pools, err := s.engine.ListPools(r.Context())
	if err != nil {
		return err
	}
	resp := make([]PoolResponse, 0, len(pools))
	for _, p := range pools {
		resp = append(resp, newPoolResponse(p))
	}
	writeJSON(w, http.StatusOK, resp)
	return nil
}

func (s *Server) handleGetPool(w http.ResponseWriter, r *http.Request) error {
	id, err := poolIDParam(r)
	if err != nil {
		return err
	}
	pool, err := s.engine.GetPool(r.Context(), id)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, newPoolResponse(pool))
	return nil
}

func (s *Server) handleFund(w http.ResponseWriter, r *http.Request) error {
	id, err := poolIDParam(r)
	if err != nil {
		return err
	}
	var req AmountRequest
	if err := decodeBody(r, &req); err != nil {
		return err
	}
	if req.User.IsZero() {
		return badRequest("user is required")
	}

	pool, err := s.engine.FundRewards(r.Context(), id, req.User, req.Amount)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, newPoolResponse(pool))
	return nil
}

func (s *Server) handleStake(w http.ResponseWriter, r *http.Request) error {
	id, err := poolIDParam(r)
	if err != nil {
		return err
	}
	var req AmountRequest
	if err := decodeBody(r, &req); err != nil {
		return err
	}
	if req.User.IsZero() {
		return badRequest("user is required")
	}

	pos, err := s.engine.Stake(r.Context(), id, req.User, req.Amount)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, newPositionResponse(pos))
	return nil
}

func (s *Server) handleUnstake(w http.ResponseWriter, r *http.Request) error {
	id, err := poolIDParam(r)
	if err != nil {
		return err
	}
	var req UserRequest
	if err := decodeBody(r, &req); err != nil {
		return err
	}
	if req.User.IsZero() {
		return badRequest("user is required")
	}

	res, err := s.engine.Unstake(r.Context(), id, req.User)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, UnstakeResponse{
		Withdrawn:        res.Withdrawn,
		RewardsPaid:      res.RewardsPaid,
		RewardsForfeited: res.RewardsForfeited,
		Position:         newPositionResponse(res.Position),
	})
	return nil
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) error {
	id, err := poolIDParam(r)
	if err != nil {
		return err
	}
	var req UserRequest
	if err := decodeBody(r, &req); err != nil {
		return err
	}
	if req.User.IsZero() {
		return badRequest("user is required")
	}

	paid, err := s.engine.Claim(r.Context(), id, req.User)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, ClaimResponse{RewardsPaid: paid})
	return nil
}

func (s *Server) handleListPositions(w http.ResponseWriter, r *http.Request) error {
	id, err := poolIDParam(r)
	if err != nil {
		return err
	}
	positions, err := s.engine.ListPositions(r.Context(), id)
	if err != nil {
		return err
	}
	resp := make([]PositionResponse, 0, len(positions))
	for _, p := range positions {
		resp = append(resp, newPositionResponse(p))
	}
	writeJSON(w, http.StatusOK, resp)
	return nil
}

func (s *Server) handleGetPosition(w http.ResponseWriter, r *http.Request) error {
	id, err := poolIDParam(r)
	if err != nil {
		return err
	}
	user, err := pubkeyParam("user", r.PathValue("user"))
	if err != nil {
		return err
	}

	pos, err := s.engine.GetPosition(r.Context(), id, user)
	if err != nil {
		return err
	}
	pending, err := s.engine.PendingRewards(r.Context(), id, user)
	if err != nil {
		return err
	}

	resp := newPositionResponse(pos)
	resp.PendingRewards = &pending
	writeJSON(w, http.StatusOK, resp)
	return nil
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) error {
	if s.events == nil {
		return &httpError{status: http.StatusNotImplemented, code: "journal_disabled", msg: "event journal is not configured"}
	}
	id, err := poolIDParam(r)
	if err != nil {
		return err
	}
	if _, err := s.engine.GetPool(r.Context(), id); err != nil {
		return err
	}

	var events []*domain.LedgerEvent
	if raw := r.URL.Query().Get("user"); raw != "" {
		user, err := pubkeyParam("user", raw)
		if err != nil {
			return err
		}
		events, err = s.events.GetByUser(r.Context(), id, user)
		if err != nil {
			return err
		}
	} else {
		events, err = s.events.GetByPool(r.Context(), id)
		if err != nil {
			return err
		}
	}

	resp := make([]feed.Message, 0, len(events))
	for _, e := range events {
		resp = append(resp, feed.NewMessage(e))
	}
	writeJSON(w, http.StatusOK, resp)
	return nil
}
