package domain

import "errors"

var (
	// ErrInvalidAmount 金額必須為正數且精度不超過最小單位
	ErrInvalidAmount = errors.New("amount must be a positive value in minor-unit precision")

	// ErrInvalidAccountKey 分行與帳號必須為正整數
	ErrInvalidAccountKey = errors.New("agency and account must be positive integers")

	// ErrInvalidTarget 轉帳來源與目的為同一帳戶
	ErrInvalidTarget = errors.New("source and destination are the same account")

	// ErrBalanceOverflow 入帳後餘額超出上限
	ErrBalanceOverflow = errors.New("credit would exceed the maximum balance")

	// ErrInsufficientFunds 餘額不足
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrAccountNotFound 找不到帳戶
	ErrAccountNotFound = errors.New("account not found")

	// ErrSourceNotFound 找不到轉出帳戶
	ErrSourceNotFound = errors.New("source account not found")

	// ErrDestinationNotFound 找不到轉入帳戶
	ErrDestinationNotFound = errors.New("destination account not found")

	// ErrEmptyAgency 分行沒有任何帳戶
	ErrEmptyAgency = errors.New("agency has no accounts")

	// ErrTransferInconsistent 轉帳已扣款，但入帳與沖正都失敗，需人工對帳
	ErrTransferInconsistent = errors.New("transfer left ledger inconsistent")

	// ErrAccountAlreadyExists 帳戶已存在
	ErrAccountAlreadyExists = errors.New("account already exists")

	// ErrOwnerRequired 戶名不可為空
	ErrOwnerRequired = errors.New("owner name is required")

	// ErrNegativeBalance 餘額不可為負
	ErrNegativeBalance = errors.New("balance must not be negative")

	// ErrWALWriteFailed 寫入 WAL 失敗
	ErrWALWriteFailed = errors.New("wal write failed")
)
