package chat

import (
	"context"
	"sync"
	"time"

	"github.com/antoniostano/streamchat/internal/assembly"
	"github.com/antoniostano/streamchat/internal/reveal"
)

// Sink receives turn snapshots. Calls for one turn are serialized and arrive
// in mutation order.
type Sink func(assembly.Turn)

// turnRun is the runtime state of one turn. The transport consumer is the
// only writer of the assembler; the reveal scheduler only writes its own
// counter.
type turnRun struct {
	id             string
	conversationID string
	userID         string
	query          string
	startedAt      time.Time
	sink           Sink
	scheduler      *reveal.Scheduler
	cancelStream   context.CancelFunc
	done           chan struct{}

	mu            sync.Mutex
	asm           *assembly.Assembler
	superseded    bool
	stopRequested bool
	sawStatus     bool
	sawContent    bool
	cancelLookup  context.CancelFunc

	publishMu sync.Mutex
}

// snapshot returns the assembler state with the current reveal position.
func (r *turnRun) snapshot() assembly.Turn {
	r.mu.Lock()
	t := r.asm.Snapshot()
	r.mu.Unlock()
	t.RevealedLength = min(r.scheduler.Revealed(), assembly.RuneLen(t.FinalText))
	return t
}

func (r *turnRun) publish() {
	r.publishMu.Lock()
	defer r.publishMu.Unlock()
	if r.sink != nil {
		r.sink(r.snapshot())
	}
}

// TurnHandle identifies a started turn.
type TurnHandle struct {
	ID   string
	done <-chan struct{}
}

// Done is closed once the turn and its background work have finished.
func (h *TurnHandle) Done() <-chan struct{} {
	return h.done
}
