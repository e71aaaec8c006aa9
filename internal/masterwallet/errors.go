package masterwallet

import "errors"

var (
	ErrNotUnlocked         = errors.New("master wallet is not unlocked")
	ErrInvalidAddress      = errors.New("invalid destination address")
	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrEmergencyMode       = errors.New("emergency mode is active")
	ErrWithdrawalsDisabled = errors.New("withdrawals are disabled")
	ErrSweepsDisabled      = errors.New("sweeps are disabled")
	ErrInsufficientGas     = errors.New("insufficient native balance for gas")
	ErrInsufficientFunds   = errors.New("insufficient token balance")
	ErrTransferTimeout     = errors.New("transfer not mined before timeout")
	ErrTransferUnconfirmed = errors.New("transfer broadcast but outcome unknown")
	ErrTransferReverted    = errors.New("transfer reverted on chain")
	ErrAddressMismatch     = errors.New("signing key does not match treasury address")
	ErrKeyNotConfigured    = errors.New("master wallet key is not configured")
)
