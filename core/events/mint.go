package events

import (
	"strconv"

	"github.com/viraj-mahida/betting-contract/core/types"
)

const (
	// TypeAccountMinted is emitted whenever an operator credits an account.
	TypeAccountMinted = "account.minted"
)

// AccountMinted records an operator credit and the resulting balance.
type AccountMinted struct {
	Identity types.Identity
	Amount   uint64
	Balance  uint64
}

func (AccountMinted) EventType() string { return TypeAccountMinted }

func (e AccountMinted) Event() *types.Event {
	return &types.Event{
		Type: TypeAccountMinted,
		Attributes: map[string]string{
			"identity": e.Identity.String(),
			"amount":   strconv.FormatUint(e.Amount, 10),
			"balance":  strconv.FormatUint(e.Balance, 10),
		},
	}
}
