package config

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"staking-ledger/internal/custody"
	"staking-ledger/internal/domain"
	"staking-ledger/internal/staking"
)

// Seed lists pools to create and balances to credit at startup.
type Seed struct {
	Pools    []PoolSeed    `yaml:"pools"`
	Balances []BalanceSeed `yaml:"balances"`
}

// PoolSeed describes one pool. Fund is moved from the authority's balance into the
// reward reserve when the pool is first created.
type PoolSeed struct {
	PoolID     uint64        `yaml:"pool_id"`
	RewardRate uint64        `yaml:"reward_rate"`
	LockPeriod Seconds       `yaml:"lock_period"`
	TokenMint  domain.Pubkey `yaml:"token_mint"`
	Authority  domain.Pubkey `yaml:"authority"`
	Fund       uint64        `yaml:"fund"`
}

// BalanceSeed credits an account that holds nothing yet.
type BalanceSeed struct {
	Owner  domain.Pubkey `yaml:"owner"`
	Mint   domain.Pubkey `yaml:"mint"`
	Amount uint64        `yaml:"amount"`
}

// Seconds is a lock period given as integer seconds or a Go duration string ("168h").
type Seconds int64

// UnmarshalYAML implements yaml.Unmarshaler.
func (s *Seconds) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: lock_period must be a scalar", value.Line)
	}
	if n, err := strconv.ParseInt(value.Value, 10, 64); err == nil {
		*s = Seconds(n)
		return nil
	}
	d, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("line %d: lock_period %q: want seconds or a duration", value.Line, value.Value)
	}
	if d%time.Second != 0 {
		return fmt.Errorf("line %d: lock_period %q is not a whole number of seconds", value.Line, value.Value)
	}
	*s = Seconds(d / time.Second)
	return nil
}

// LoadSeed reads and validates a seed file.
func LoadSeed(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	return ParseSeed(data)
}

// ParseSeed decodes and validates seed YAML.
func ParseSeed(data []byte) (*Seed, error) {
	var s Seed
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse seed: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks required fields and duplicate pool ids.
func (s *Seed) Validate() error {
	seen := make(map[uint64]bool, len(s.Pools))
	for i, p := range s.Pools {
		if seen[p.PoolID] {
			return fmt.Errorf("pools[%d]: duplicate pool_id %d", i, p.PoolID)
		}
		seen[p.PoolID] = true
		if p.TokenMint.IsZero() {
			return fmt.Errorf("pools[%d]: token_mint is required", i)
		}
		if p.Authority.IsZero() {
			return fmt.Errorf("pools[%d]: authority is required", i)
		}
		if p.LockPeriod < 0 {
			return fmt.Errorf("pools[%d]: lock_period must not be negative", i)
		}
	}
	for i, b := range s.Balances {
		if b.Owner.IsZero() || b.Mint.IsZero() {
			return fmt.Errorf("balances[%d]: owner and mint are required", i)
		}
		if b.Amount == 0 {
			return fmt.Errorf("balances[%d]: amount must be positive", i)
		}
	}
	return nil
}

// Apply credits empty seeded accounts, then creates and funds missing pools.
// Pools that already exist are left untouched, so Apply is safe to repeat on restart.
func (s *Seed) Apply(ctx context.Context, engine *staking.Engine, ledger custody.Ledger, logger *log.Logger) error {
	if logger == nil {
		logger = log.Default()
	}

	for _, b := range s.Balances {
		acct := domain.TokenAccount{Owner: b.Owner, Mint: b.Mint}
		bal, err := ledger.Balance(ctx, acct)
		if err != nil {
			return fmt.Errorf("balance of %s: %w", acct, err)
		}
		if bal > 0 {
			continue
		}
		if err := ledger.Deposit(ctx, acct, b.Amount); err != nil {
			return fmt.Errorf("deposit to %s: %w", acct, err)
		}
		logger.Printf("seeded %d to %s", b.Amount, acct)
	}

	for _, p := range s.Pools {
		_, err := engine.CreatePool(ctx, staking.CreatePoolRequest{
			PoolID:     p.PoolID,
			RewardRate: p.RewardRate,
			LockPeriod: int64(p.LockPeriod),
			TokenMint:  p.TokenMint,
			Authority:  p.Authority,
		})
		if errors.Is(err, staking.ErrPoolAlreadyExists) {
			logger.Printf("pool %d already exists, skipping seed", p.PoolID)
			continue
		}
		if err != nil {
			return fmt.Errorf("create pool %d: %w", p.PoolID, err)
		}

		if p.Fund > 0 {
			if _, err := engine.FundRewards(ctx, p.PoolID, p.Authority, p.Fund); err != nil {
				return fmt.Errorf("fund pool %d: %w", p.PoolID, err)
			}
		}
	}
	return nil
}
