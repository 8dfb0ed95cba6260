package wallet

const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 500
)
