package types

// Account is the platform record tracking an identity's spendable native
// balance. Market custody balances are held separately and never counted
// here.
type Account struct {
	// Nonce counts the custody transfers the account has taken part in: one
	// per stake deposited and one per payout received. Faucet credits do not
	// advance it.
	Nonce   uint64 `json:"nonce"`
	Balance uint64 `json:"balance"`
}

// Clone returns a copy of the account. A nil receiver yields an empty
// account so callers never have to special-case missing records.
func (a *Account) Clone() *Account {
	if a == nil {
		return &Account{}
	}
	clone := *a
	return &clone
}
