package reporting

import (
	"fmt"
	"strings"
	"time"
)

// RenderMarkdown renders report as Markdown string.
func RenderMarkdown(r *Report) string {
	var sb strings.Builder

	// Header
	sb.WriteString("# Staking Ledger Report\n\n")
	sb.WriteString(fmt.Sprintf("Generated: %s\n\n", r.GeneratedAt.Format(time.RFC3339)))
	sb.WriteString(fmt.Sprintf("Pending rewards as of: %s\n\n", time.Unix(r.AsOf, 0).UTC().Format(time.RFC3339)))

	// Summary
	sb.WriteString("## Summary\n\n")
	sb.WriteString("| Metric | Value |\n")
	sb.WriteString("|--------|-------|\n")
	sb.WriteString(fmt.Sprintf("| Pools | %d |\n", r.Summary.Pools))
	sb.WriteString(fmt.Sprintf("| Active Positions | %d |\n", r.Summary.ActivePositions))
	sb.WriteString(fmt.Sprintf("| Dormant Positions | %d |\n", r.Summary.DormantPositions))
	sb.WriteString(fmt.Sprintf("| Total Staked | %s |\n", r.Summary.TotalStaked))
	sb.WriteString(fmt.Sprintf("| Rewards Paid | %s |\n", r.Summary.TotalRewards))
	sb.WriteString(fmt.Sprintf("| Rewards Funded | %s |\n", r.Summary.RewardsFunded))
	sb.WriteString(fmt.Sprintf("| Pending Rewards | %s |\n", r.Summary.PendingRewards))
	sb.WriteString("\n")

	// Integrity
	sb.WriteString("## Integrity\n\n")
	switch {
	case !r.Integrity.Checked:
		sb.WriteString("No integrity checks performed.\n\n")
	case r.Integrity.AllChecksPassed:
		sb.WriteString("**All checks passed.**\n\n")
	default:
		sb.WriteString("**Some checks failed.**\n\n")
		for _, v := range r.Integrity.Violations {
			sb.WriteString(fmt.Sprintf("- %s\n", v))
		}
		sb.WriteString("\n")
	}

	// Pools
	sb.WriteString("## Pools\n\n")
	if len(r.Pools) > 0 {
		sb.WriteString("| Pool | APR % | Lock (s) | Staked | Paid | Funded | Reserve | Active | Dormant | Pending | Coverage |\n")
		sb.WriteString("|------|-------|----------|--------|------|--------|---------|--------|---------|---------|----------|\n")
		for _, p := range r.Pools {
			sb.WriteString(fmt.Sprintf("| %d | %s | %d | %d | %d | %d | %d | %d | %d | %s | %s |\n",
				p.PoolID, p.RatePercent.String(), p.LockPeriod,
				p.TotalStaked, p.TotalRewards, p.RewardsFunded, p.RewardReserve,
				p.ActivePositions, p.DormantPositions, p.PendingRewards, p.ReserveCoverage))
		}
	} else {
		sb.WriteString("No pools.\n")
	}
	sb.WriteString("\n")

	// Positions
	sb.WriteString("## Positions\n\n")
	if len(r.Positions) > 0 {
		sb.WriteString("| Pool | User | Amount | Stake Time | Unlock Time | Unlocked | Claimed (period) | Claimed (total) | Pending |\n")
		sb.WriteString("|------|------|--------|------------|-------------|----------|------------------|-----------------|---------|\n")
		for _, p := range r.Positions {
			sb.WriteString(fmt.Sprintf("| %d | %s | %d | %d | %d | %t | %d | %d | %s |\n",
				p.PoolID, p.User, p.Amount, p.StakeTime, p.UnlockTime, p.Unlocked,
				p.RewardsClaimed, p.TotalClaimed, p.PendingRewards))
		}
	} else {
		sb.WriteString("No positions.\n")
	}
	sb.WriteString("\n")

	return sb.String()
}
