package store

import (
	"fmt"

	"github.com/google/uuid"
)

// Key schema:
//
//	r:<run>                 → Run
//	h:<run>:<round>         → sim.PricePoint
//	t:<run>:<seq>           → common.Trade
//	a:<run>:<trader id>     → agent.Result
//
// Rounds and sequence numbers are zero padded so keys sort numerically.
const (
	prefixRun     = "r:"
	prefixHistory = "h:"
	prefixTrade   = "t:"
	prefixAgent   = "a:"
)

func runKey(run uuid.UUID) []byte {
	return []byte(prefixRun + run.String())
}

func historyPrefix(run uuid.UUID) []byte {
	return []byte(fmt.Sprintf("%s%s:", prefixHistory, run))
}

func historyKey(run uuid.UUID, round int) []byte {
	return []byte(fmt.Sprintf("%s%s:%012d", prefixHistory, run, round))
}

func tradePrefix(run uuid.UUID) []byte {
	return []byte(fmt.Sprintf("%s%s:", prefixTrade, run))
}

func tradeKey(run uuid.UUID, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d", prefixTrade, run, seq))
}

func agentPrefix(run uuid.UUID) []byte {
	return []byte(fmt.Sprintf("%s%s:", prefixAgent, run))
}

func agentKey(run uuid.UUID, id string) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", prefixAgent, run, id))
}

// keyUpperBound returns the smallest key greater than every key with the
// given prefix.
func keyUpperBound(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}
