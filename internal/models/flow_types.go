// Package models defines flow type definitions to avoid circular imports.
package models

// StateType represents a top-level state of a loan conversation.
type StateType string

// RoutingSignal is emitted by a stage when the top-level state machine should advance.
type RoutingSignal string

// Sender identifies who authored a history entry.
type Sender string

// EndReason records why a session was torn down.
type EndReason string

// State constants for the loan conversation.
const (
	StateGreeting       StateType = "GREETING"
	StateCollectingName StateType = "COLLECTING_NAME"
	StateSales          StateType = "SALES"
	StateVerification   StateType = "VERIFICATION"
	StateUnderwriting   StateType = "UNDERWRITING"
	StateSanction       StateType = "SANCTION"
)

// Routing signals.
const (
	SignalNone         RoutingSignal = ""
	SignalVerification RoutingSignal = "verification"
	SignalUnderwriting RoutingSignal = "underwriting"
)

const (
	SenderUser Sender = "user"
	SenderBot  Sender = "bot"
)

const (
	EndReasonEnded        EndReason = "ended"
	EndReasonExpired      EndReason = "expired"
	EndReasonDisconnected EndReason = "disconnected"
)
