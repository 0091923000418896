package feed

import "github.com/livefeed/livefeed-go/internal/wire"

// Effect is a declarative side-effect produced by the reducer.
//
// Effects are data, not execution. The engine interprets them and posts
// resulting events back to the loop, keeping the reducer deterministic.
type Effect interface {
	isEffect()
}

// EffEmit sends an envelope over the transport channel.
//
// CmdID or ClientMsgID identifies the optimistic mutation the envelope
// carries, if any; on a synchronous send failure the engine posts the matching
// failure input so the mutation rolls back immediately instead of waiting for
// the ack deadline.
type EffEmit struct {
	Env         wire.Envelope
	CmdID       string
	ClientMsgID string
}

// EffLoadBaseline re-runs the snapshot loader and posts EvBaselineLoaded.
type EffLoadBaseline struct{}

// EffMarkRead issues the batch mark-read REST call for a pending command.
type EffMarkRead struct {
	CmdID string
	IDs   []string
}

// EffArchive issues the batch archive REST call for a pending command.
type EffArchive struct {
	CmdID string
	IDs   []string
}

// EffDeleteNotifications issues the delete REST call(s) for a pending command.
type EffDeleteNotifications struct {
	CmdID string
	IDs   []string
}

// EffCommandTimedOut reports that an optimistic mutation was rolled back
// because no ack arrived within the deadline.
type EffCommandTimedOut struct {
	Kind string
	// ClientMsgID is set for chat sends, IDs for notification batches.
	ClientMsgID string
	IDs         []string
}

func (EffEmit) isEffect()                {}
func (EffLoadBaseline) isEffect()        {}
func (EffMarkRead) isEffect()            {}
func (EffArchive) isEffect()             {}
func (EffDeleteNotifications) isEffect() {}
func (EffCommandTimedOut) isEffect()     {}
