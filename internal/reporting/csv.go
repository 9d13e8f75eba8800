package reporting

import (
	"fmt"
	"strings"
)

// RenderPoolsCSV renders pool rows as CSV string.
func RenderPoolsCSV(pools []PoolRow) string {
	var sb strings.Builder

	// Header
	sb.WriteString("pool_id,rate_percent,lock_period,token_mint,address,total_staked,total_rewards,")
	sb.WriteString("rewards_funded,reward_reserve,active_positions,dormant_positions,pending_rewards,reserve_coverage\n")

	// Rows
	for _, p := range pools {
		sb.WriteString(fmt.Sprintf("%d,%s,%d,%s,%s,%d,%d,%d,%d,%d,%d,%s,%s\n",
			p.PoolID,
			p.RatePercent.String(),
			p.LockPeriod,
			p.TokenMint,
			p.Address,
			p.TotalStaked,
			p.TotalRewards,
			p.RewardsFunded,
			p.RewardReserve,
			p.ActivePositions,
			p.DormantPositions,
			p.PendingRewards.String(),
			p.ReserveCoverage,
		))
	}

	return sb.String()
}

// RenderPositionsCSV renders position rows as CSV string.
func RenderPositionsCSV(positions []PositionRow) string {
	var sb strings.Builder

	sb.WriteString("pool_id,user,amount,stake_time,unlock_time,unlocked,rewards_claimed,total_claimed,pending_rewards\n")

	for _, p := range positions {
		sb.WriteString(fmt.Sprintf("%d,%s,%d,%d,%d,%t,%d,%d,%s\n",
			p.PoolID,
			p.User,
			p.Amount,
			p.StakeTime,
			p.UnlockTime,
			p.Unlocked,
			p.RewardsClaimed,
			p.TotalClaimed,
			p.PendingRewards.String(),
		))
	}

	return sb.String()
}
