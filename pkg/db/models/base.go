package models

import (
	"github.com/google/uuid"
)

// ensureID assigns a fresh UUID when the caller left the primary key empty.
// Postgres also defaults ids via gen_random_uuid(), but sqlite does not.
func ensureID(id *uuid.UUID) {
	if *id == uuid.Nil {
		*id = uuid.New()
	}
}

// All lists every persisted model, in dependency order.
func All() []any {
	return []any{
		&Wallet{},
		&Transaction{},
		&DepositAddress{},
		&BlockchainDeposit{},
		&DepositSweep{},
		&ScannerCheckpoint{},
		&LoaderAd{},
		&LoaderOrder{},
		&LoaderOrderMessage{},
		&PlatformWalletControls{},
		&MasterWalletState{},
		&Withdrawal{},
		&OutboxEvent{},
		&OutboxDLQ{},
	}
}
