package models

import (
	"slices"

	"github.com/samber/lo"
)

// OrderAccount is the fixed key of the order singleton.
const OrderAccount = "tokenOrder"

// TokenOrder is the user-visible order of account ids. Mutators return a
// modified copy so the caller can persist it before adopting it.
type TokenOrder struct {
	Accounts []string `json:"accounts"`
}

// AccountID implements Storable.
func (o TokenOrder) AccountID() string { return OrderAccount }

// Len returns the number of tokens.
func (o TokenOrder) Len() int { return len(o.Accounts) }

// At returns the account id at index.
func (o TokenOrder) At(index int) (string, bool) {
	if index < 0 || index >= len(o.Accounts) {
		return "", false
	}
	return o.Accounts[index], true
}

// IndexOf returns the position of account or -1.
func (o TokenOrder) IndexOf(account string) int {
	return lo.IndexOf(o.Accounts, account)
}

// Insert returns a copy with account placed at index. The index is clamped
// to the valid range. Inserting an id that is already present is a no-op.
func (o TokenOrder) Insert(index int, account string) TokenOrder {
	if lo.Contains(o.Accounts, account) {
		return o.clone()
	}
	index = max(0, min(index, len(o.Accounts)))
	return TokenOrder{Accounts: slices.Insert(slices.Clone(o.Accounts), index, account)}
}

// Remove returns a copy without account.
func (o TokenOrder) Remove(account string) (TokenOrder, bool) {
	if !lo.Contains(o.Accounts, account) {
		return o.clone(), false
	}
	return TokenOrder{Accounts: lo.Without(o.Accounts, account)}, true
}

// Move returns a copy with the id at from relocated to to.
func (o TokenOrder) Move(from, to int) (TokenOrder, bool) {
	n := len(o.Accounts)
	if from < 0 || from >= n || to < 0 || to >= n {
		return o.clone(), false
	}
	id := o.Accounts[from]
	out := slices.Delete(slices.Clone(o.Accounts), from, from+1)
	return TokenOrder{Accounts: slices.Insert(out, to, id)}, true
}

func (o TokenOrder) clone() TokenOrder {
	return TokenOrder{Accounts: slices.Clone(o.Accounts)}
}
