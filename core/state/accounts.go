package state

import (
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"

	"github.com/viraj-mahida/betting-contract/core/types"
)

type storedAccount struct {
	Nonce   uint64
	Balance uint64
}

// GetAccount returns the account stored for id. Unknown identities yield an
// empty account.
func (m *Manager) GetAccount(id types.Identity) (*types.Account, error) {
	data, err := m.get(accountKey(id.Bytes()))
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return &types.Account{}, nil
	}
	var stored storedAccount
	if err := rlp.DecodeBytes(data, &stored); err != nil {
		return nil, fmt.Errorf("state: decode account %s: %w", id, err)
	}
	return &types.Account{Nonce: stored.Nonce, Balance: stored.Balance}, nil
}

// PutAccount stores account under id.
func (m *Manager) PutAccount(id types.Identity, account *types.Account) error {
	if id.IsZero() {
		return fmt.Errorf("state: account identity must not be empty")
	}
	if account == nil {
		account = &types.Account{}
	}
	encoded, err := rlp.EncodeToBytes(storedAccount{Nonce: account.Nonce, Balance: account.Balance})
	if err != nil {
		return err
	}
	m.put(accountKey(id.Bytes()), encoded)
	return nil
}
