package action

import (
	"time"

	"github.com/dimspell/vector/internal/vector"
)

var (
	// Console
	defaultConsoleAddr = "127.0.0.1:2137"

	// Relays
	defaultQueueLimit   = vector.DefaultQueueLimit
	defaultTickInterval = 50 * time.Millisecond

	// Dialing
	defaultDialTimeout    = 5 * time.Second
	defaultDialMaxElapsed = 30 * time.Second
)
