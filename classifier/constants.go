package classifier

import "time"

const (
	InputWidth    = 224
	InputHeight   = 224
	InputChannels = 3

	// DefaultPoolSize Pool configuration
	DefaultPoolSize = 4
	AcquireTimeout  = 5 * time.Second
)
