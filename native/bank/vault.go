package bank

import (
	"errors"
	"fmt"
	"math/bits"

	"github.com/viraj-mahida/betting-contract/core/types"
	"github.com/viraj-mahida/betting-contract/native/market"
)

var errNilState = errors.New("bank: state not configured")

type vaultState interface {
	GetAccount(id types.Identity) (*types.Account, error)
	PutAccount(id types.Identity, account *types.Account) error
	CustodyBalance(market [32]byte) (uint64, error)
	SetCustodyBalance(market [32]byte, amount uint64) error
}

// Vault holds native value on behalf of markets. Account balances and market
// custody balances live in the same state backend so a single commit moves
// both sides of every transfer.
type Vault struct {
	state vaultState
}

// NewVault returns a vault bound to state.
func NewVault(state vaultState) *Vault {
	return &Vault{state: state}
}

func (v *Vault) ready() error {
	if v == nil || v.state == nil {
		return errNilState
	}
	return nil
}

func (v *Vault) account(id types.Identity) (*types.Account, error) {
	acc, err := v.state.GetAccount(id)
	if err != nil {
		return nil, fmt.Errorf("bank: load account: %w", err)
	}
	if acc == nil {
		return &types.Account{}, nil
	}
	return acc.Clone(), nil
}

// AccountBalance returns the spendable balance of id.
func (v *Vault) AccountBalance(id types.Identity) (uint64, error) {
	if err := v.ready(); err != nil {
		return 0, err
	}
	acc, err := v.account(id)
	if err != nil {
		return 0, err
	}
	return acc.Balance, nil
}

// Balance implements market.Custody.
func (v *Vault) Balance(marketID [32]byte) (uint64, error) {
	if err := v.ready(); err != nil {
		return 0, err
	}
	return v.state.CustodyBalance(marketID)
}

// Deposit debits from and credits the market's custody balance.
func (v *Vault) Deposit(marketID [32]byte, from types.Identity, amount uint64) error {
	if err := v.ready(); err != nil {
		return err
	}
	if amount == 0 {
		return nil
	}
	acc, err := v.account(from)
	if err != nil {
		return err
	}
	if acc.Balance < amount {
		return fmt.Errorf("%w: have %d need %d", market.ErrInsufficientFunds, acc.Balance, amount)
	}
	held, err := v.state.CustodyBalance(marketID)
	if err != nil {
		return err
	}
	next, carry := bits.Add64(held, amount, 0)
	if carry != 0 {
		return market.ErrOverflow
	}
	acc.Balance -= amount
	acc.Nonce++
	if err := v.state.PutAccount(from, acc); err != nil {
		return err
	}
	return v.state.SetCustodyBalance(marketID, next)
}

// Withdraw debits the market's custody balance and credits to. The custody
// balance is checked before anything is written.
func (v *Vault) Withdraw(marketID [32]byte, to types.Identity, amount uint64) error {
	if err := v.ready(); err != nil {
		return err
	}
	if amount == 0 {
		return nil
	}
	held, err := v.state.CustodyBalance(marketID)
	if err != nil {
		return err
	}
	if held < amount {
		return fmt.Errorf("%w: holds %d owes %d", market.ErrInsufficientCustody, held, amount)
	}
	acc, err := v.account(to)
	if err != nil {
		return err
	}
	next, carry := bits.Add64(acc.Balance, amount, 0)
	if carry != 0 {
		return market.ErrOverflow
	}
	acc.Balance = next
	acc.Nonce++
	if err := v.state.SetCustodyBalance(marketID, held-amount); err != nil {
		return err
	}
	return v.state.PutAccount(to, acc)
}

// Mint credits amount of fresh native value to id. It backs the operator
// faucet and test fixtures; nothing in the market lifecycle calls it.
func (v *Vault) Mint(id types.Identity, amount uint64) (uint64, error) {
	if err := v.ready(); err != nil {
		return 0, err
	}
	if id.IsZero() {
		return 0, market.ErrInvalidIdentity
	}
	if amount == 0 {
		return 0, market.ErrInvalidAmount
	}
	acc, err := v.account(id)
	if err != nil {
		return 0, err
	}
	next, carry := bits.Add64(acc.Balance, amount, 0)
	if carry != 0 {
		return 0, market.ErrOverflow
	}
	acc.Balance = next
	if err := v.state.PutAccount(id, acc); err != nil {
		return 0, err
	}
	return next, nil
}

var _ market.Custody = (*Vault)(nil)
