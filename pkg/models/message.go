package models

import "time"

// MessageType classifies messages exchanged between the coordinator and workers.
type MessageType string

const (
	// MessageTaskComplete reports successful completion of a task.
	MessageTaskComplete MessageType = "task_complete"
	// MessageTaskBlocked reports that a task cannot proceed.
	MessageTaskBlocked MessageType = "task_blocked"
	// MessageDiscussionNeeded asks the coordinator to convene other roles.
	MessageDiscussionNeeded MessageType = "discussion_needed"
	// MessageVote carries a voter's verdict on a proposal.
	MessageVote MessageType = "vote"
	// MessageEscalate forwards a failure up the escalation chain.
	MessageEscalate MessageType = "escalate"
	// MessageConsultRequest asks for advice without transferring ownership.
	MessageConsultRequest MessageType = "consult_request"
	// MessageConsultResponse answers a consult request.
	MessageConsultResponse MessageType = "consult_response"
	// MessageSyncCheckpoint publishes a declared interface at a sync barrier.
	MessageSyncCheckpoint MessageType = "sync_checkpoint"
	// MessageSwarmJoin announces a worker joining a swarm diagnosis.
	MessageSwarmJoin MessageType = "swarm_join"
	// MessageRetroFinding carries one retrospective finding.
	MessageRetroFinding MessageType = "retro_finding"
	// MessageItemReady announces one pipelined item is ready for consumption.
	MessageItemReady MessageType = "item_ready"
	// MessageAllPlanned announces that a producer has emitted every item.
	MessageAllPlanned MessageType = "all_planned"
	// MessageError reports a structural failure.
	MessageError MessageType = "error"
)

// Valid returns true if the message type is a known value.
func (t MessageType) Valid() bool {
	switch t {
	case MessageTaskComplete, MessageTaskBlocked, MessageDiscussionNeeded,
		MessageVote, MessageEscalate, MessageConsultRequest, MessageConsultResponse,
		MessageSyncCheckpoint, MessageSwarmJoin, MessageRetroFinding,
		MessageItemReady, MessageAllPlanned, MessageError:
		return true
	default:
		return false
	}
}

// Terminal returns true if the message reports a terminal task status and
// should wake the coordinator for reconciliation.
func (t MessageType) Terminal() bool {
	return t == MessageTaskComplete || t == MessageTaskBlocked || t == MessageError
}

// Message is one immutable entry in the append-only message log.
// Ordering is guaranteed per (From, To) pair only; consumers must treat the
// task store, not message content, as ground truth.
type Message struct {
	// Seq is the log sequence number, assigned on append.
	Seq int64 `json:"seq"`
	// SessionID is the session the message belongs to.
	SessionID string `json:"session_id,omitempty"`
	// From identifies the sender (worker ID or "coordinator").
	From string `json:"from"`
	// To identifies the receiver (worker ID, role, or "coordinator").
	To string `json:"to"`
	// Type classifies the message.
	Type MessageType `json:"type"`
	// TaskID is the task the message concerns, if any.
	TaskID string `json:"task_id,omitempty"`
	// Payload is the message body. Pattern engines parse it as needed.
	Payload string `json:"payload,omitempty"`
	// Artifact is an opaque pointer to a produced artifact, if any.
	Artifact string `json:"artifact,omitempty"`
	// Timestamp is when the message was appended.
	Timestamp time.Time `json:"timestamp"`
}
