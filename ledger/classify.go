package ledger

// MutationPolicy is the balance-change rule a transaction type carries.
// The engine switches on this, never on raw type codes.
type MutationPolicy int

const (
	PolicyUnsupported MutationPolicy = iota
	PolicyDeposit
	PolicyWithdrawal
	PolicyTransfer
)

func (p MutationPolicy) String() string {
	switch p {
	case PolicyDeposit:
		return "deposit"
	case PolicyWithdrawal:
		return "withdrawal"
	case PolicyTransfer:
		return "transfer"
	default:
		return "unsupported"
	}
}

// Debits reports whether the policy takes money out of the primary account.
func (p MutationPolicy) Debits() bool {
	return p == PolicyWithdrawal || p == PolicyTransfer
}

// TouchesDestination reports whether a second account is credited.
func (p MutationPolicy) TouchesDestination() bool {
	return p == PolicyTransfer
}

// Classify maps a type code to its mutation policy. Total and pure: any code
// outside deposit/withdrawal/transfer is PolicyUnsupported.
func Classify(code TypeCode) MutationPolicy {
	switch code {
	case TypeDeposit:
		return PolicyDeposit
	case TypeWithdrawal:
		return PolicyWithdrawal
	case TypeTransfer:
		return PolicyTransfer
	default:
		return PolicyUnsupported
	}
}
