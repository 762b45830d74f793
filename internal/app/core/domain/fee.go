package domain

// FeePolicy 手續費規則 (純函式，無副作用)
type FeePolicy interface {
	// WithdrawalFee 每筆提款額外收取的手續費
	WithdrawalFee() Amount
	// TransferFee 轉帳手續費，只向轉出帳戶收取
	TransferFee(sourceAgency, destAgency int64) Amount
}

// StandardFees 固定費率
type StandardFees struct {
	Withdrawal  Amount
	CrossAgency Amount
}

// DefaultFees 提款 1 單位，跨行轉帳 8 單位，同行轉帳免費
var DefaultFees = StandardFees{
	Withdrawal:  Units(1),
	CrossAgency: Units(8),
}

func (f StandardFees) WithdrawalFee() Amount {
	return f.Withdrawal
}

func (f StandardFees) TransferFee(sourceAgency, destAgency int64) Amount {
	if sourceAgency == destAgency {
		return 0
	}
	return f.CrossAgency
}

var _ FeePolicy = StandardFees{}
