package models

import "encoding/json"

// SignalType names a frame exchanged over a live connection.
type SignalType string

// Client -> server.
const (
	SignalAnnounce    SignalType = "announce"
	SignalSend        SignalType = "send"
	SignalTypingStart SignalType = "typingStart"
	SignalTypingStop  SignalType = "typingStop"
	SignalMarkRead    SignalType = "markRead"
	SignalPing        SignalType = "ping"
)

// Server -> client.
const (
	SignalOnline        SignalType = "online"
	SignalOffline       SignalType = "offline"
	SignalDelivered     SignalType = "delivered"
	SignalAcknowledged  SignalType = "acknowledged"
	SignalSendFailed    SignalType = "sendFailed"
	SignalTypingChanged SignalType = "typingChanged"
	SignalReadReceipt   SignalType = "readReceipt"
	SignalPong          SignalType = "pong"
	SignalError         SignalType = "error"
)

// Signal is an outgoing frame.
type Signal struct {
	Type    SignalType `json:"type"`
	Payload any        `json:"payload,omitempty"`
}

// InboundSignal is an incoming frame; the payload is decoded per type.
type InboundSignal struct {
	Type    SignalType      `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type AnnouncePayload struct {
	UserID string `json:"userId"`
}

type TypingPayload struct {
	SenderID   string `json:"senderId"`
	ReceiverID string `json:"receiverId"`
}

type MarkReadPayload struct {
	Reader     string `json:"reader"`
	OtherParty string `json:"otherParty"`
}

type PresencePayload struct {
	UserID string `json:"userId"`
}

type TypingChangedPayload struct {
	SenderID string `json:"senderId"`
	IsTyping bool   `json:"isTyping"`
}

type ReadReceiptPayload struct {
	ReaderID string `json:"readerId"`
}

type ErrorPayload struct {
	Error string `json:"error"`
}
