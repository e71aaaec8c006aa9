package enums

import "fmt"

// TransactionType classifies immutable ledger entries.
type TransactionType string

const (
	TransactionDeposit            TransactionType = "deposit"
	TransactionWithdrawal         TransactionType = "withdrawal"
	TransactionWithdrawalReversal TransactionType = "withdrawal_reversal"
	TransactionEscrowFreeze       TransactionType = "escrow_freeze"
	TransactionEscrowRelease      TransactionType = "escrow_release"
	TransactionEscrowRefund       TransactionType = "escrow_refund"
	TransactionPlatformFee        TransactionType = "platform_fee"
)

var validTransactionTypes = []TransactionType{
	TransactionDeposit,
	TransactionWithdrawal,
	TransactionWithdrawalReversal,
	TransactionEscrowFreeze,
	TransactionEscrowRelease,
	TransactionEscrowRefund,
	TransactionPlatformFee,
}

func (t TransactionType) String() string {
	return string(t)
}

func (t TransactionType) IsValid() bool {
	for _, candidate := range validTransactionTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

func ParseTransactionType(value string) (TransactionType, error) {
	for _, candidate := range validTransactionTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid transaction type %q", value)
}
