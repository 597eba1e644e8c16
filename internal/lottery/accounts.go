package lottery

import (
	"time"

	"github.com/gagliardetto/solana-go"
)

const (
	RecordTagSize          = 8
	PoolAccountSize        = 68
	UserDepositAccountSize = 56

	// SelectionCooldown mirrors the program's minimum spacing between winner
	// selections. Client-side it is only a hint.
	SelectionCooldown = 60 * time.Second
)

var (
	PoolRecordTag        = AnchorAccountDiscriminator("SolPool")
	UserDepositRecordTag = AnchorAccountDiscriminator("UserDeposit")
)

type PoolAccount struct {
	TotalDeposited      uint64           `json:"total_deposited"`
	TotalDepositors     uint32           `json:"total_depositors"`
	LastRewardTimestamp int64            `json:"last_reward_timestamp"`
	RewardPoolBalance   uint64           `json:"reward_pool_balance"`
	Admin               solana.PublicKey `json:"admin"`
}

// CooldownRemaining estimates how long until the program will accept another
// winner selection. The estimate is only as fresh as the snapshot.
func (p PoolAccount) CooldownRemaining(now time.Time, window time.Duration) time.Duration {
	if p.LastRewardTimestamp <= 0 {
		return 0
	}
	readyAt := time.Unix(p.LastRewardTimestamp, 0).Add(window)
	if !now.Before(readyAt) {
		return 0
	}
	return readyAt.Sub(now)
}

type UserDepositAccount struct {
	Owner            solana.PublicKey `json:"owner"`
	Amount           uint64           `json:"amount"`
	DepositTimestamp int64            `json:"deposit_timestamp"`
}

func (u UserDepositAccount) IsEmpty() bool {
	return u.Amount == 0
}
