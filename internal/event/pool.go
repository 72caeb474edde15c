package event

import (
	"sync"

	"twamm_go/pkg/fixed"
)

// commandPool recycles commands together with their reply channels.
// Use this to reduce GC pressure on the gateway hotpath.
//
// Usage:
//
//	cmd := AcquireCommand()
//	cmd.Type = TypeSwap
//	// ... submit and wait for the reply ...
//	ReleaseCommand(cmd) // only once the engine is done with it
var commandPool = sync.Pool{
	New: func() interface{} {
		return &Command{reply: make(chan Result, 1)}
	},
}

// AcquireCommand gets a Command from the pool.
// The returned command has zero values and must be initialized.
func AcquireCommand() *Command {
	return commandPool.Get().(*Command)
}

// ReleaseCommand returns a Command to the pool.
// The command is reset to zero values before being pooled; its reply
// channel is kept and drained.
func ReleaseCommand(cmd *Command) {
	if cmd == nil {
		return
	}
	cmd.Seq = 0
	cmd.Ts = 0
	cmd.Type = ""
	cmd.Caller = ""
	cmd.Asset = ""
	cmd.Amount = fixed.Zero
	cmd.Amount1 = fixed.Zero
	cmd.Intervals = 0
	cmd.OrderID = 0
	select {
	case <-cmd.Reply():
	default:
	}

	commandPool.Put(cmd)
}

// Warmup pre-allocates commands to reduce GC pressure at startup.
func Warmup() {
	const batchSize = 256

	cmds := make([]*Command, 0, batchSize)
	for i := 0; i < batchSize; i++ {
		cmds = append(cmds, AcquireCommand())
	}
	for _, cmd := range cmds {
		ReleaseCommand(cmd)
	}
}
