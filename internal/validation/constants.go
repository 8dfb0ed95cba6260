package validation

const (
	// String lengths
	MaxReasonLength    = 500
	MaxReferenceLength = 128
	MaxKeyLength       = 64
)
