package message

import (
	"encoding/json"
	"fmt"
	"time"
)

// InboundType enumerates every envelope type a client may send.
// DecodeInbound rejects anything outside this set.
type InboundType string

const (
	TypeJoinUserSession  InboundType = "join_user_session"
	TypeJoinAdminSession InboundType = "join_admin_session"
	TypeUserMessage      InboundType = "user_message"
	TypeAdminMessage     InboundType = "admin_message"
	TypeEscalateToAdmin  InboundType = "escalate_to_admin"
)

// OutboundType enumerates every envelope type the broker may send.
type OutboundType string

const (
	TypeConnected            OutboundType = "connected"
	TypeSessionData          OutboundType = "session_data"
	TypeActiveSessions       OutboundType = "active_sessions"
	TypeNewUserMessage       OutboundType = "new_user_message"
	TypeMessageSent          OutboundType = "message_sent"
	TypeMessageReceived      OutboundType = "message_received"
	TypeEscalationRequest    OutboundType = "escalation_request"
	TypeEscalationConfirmed  OutboundType = "escalation_confirmed"
	TypeError                OutboundType = "error"
)

// Connection roles reported in the connected envelope
const (
	RoleUser  = "user"
	RoleAgent = "agent"
)

// Inbound payload variants. Each inbound type decodes into exactly one
// of these; there is no shared untyped payload map.

// JoinUserSession binds a user connection to a session id.
type JoinUserSession struct {
	SessionID      string `json:"session_id"`
	UserIdentifier string `json:"user_identifier,omitempty"`
}

// JoinAdminSession registers an agent connection. SessionID is optional:
// when present the agent also joins (and claims) that session.
type JoinAdminSession struct {
	SessionID string `json:"session_id,omitempty"`
}

// UserMessage carries a user-authored chat message.
type UserMessage struct {
	SessionID      string `json:"session_id"`
	Text           string `json:"text"`
	UserIdentifier string `json:"user_identifier,omitempty"`
}

// AdminMessage carries an agent-authored chat message.
type AdminMessage struct {
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
}

// EscalateToAdmin requests human handling for a session.
type EscalateToAdmin struct {
	SessionID      string `json:"session_id"`
	UserIdentifier string `json:"user_identifier,omitempty"`
	Reason         string `json:"reason,omitempty"`
}

// Inbound is a decoded inbound envelope. Exactly one payload pointer is
// non-nil, matching Type.
type Inbound struct {
	Type         InboundType
	JoinUser     *JoinUserSession
	JoinAdmin    *JoinAdminSession
	UserMessage  *UserMessage
	AdminMessage *AdminMessage
	Escalate     *EscalateToAdmin
}

// inboundEnvelope is the raw wire shape before payload dispatch.
type inboundEnvelope struct {
	Type InboundType     `json:"type"`
	Data json.RawMessage `json:"data"`
}

// DecodeInbound parses a raw frame into a typed inbound envelope.
// Field values are sanitized (null bytes stripped, whitespace trimmed)
// before validation. Errors are *ValidationError or *LengthError for
// field-level problems, or a generic error for unparseable JSON and
// unknown envelope types.
func DecodeInbound(raw []byte) (*Inbound, error) {
	var env inboundEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope JSON: %w", err)
	}
	if env.Type == "" {
		return nil, &ValidationError{Field: "type", Message: "type is required"}
	}

	data := env.Data
	if len(data) == 0 {
		data = []byte("{}")
	}

	in := &Inbound{Type: env.Type}
	switch env.Type {
	case TypeJoinUserSession:
		var p JoinUserSession
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("invalid %s payload: %w", env.Type, err)
		}
		p.SessionID = sanitizeString(p.SessionID)
		p.UserIdentifier = sanitizeString(p.UserIdentifier)
		if err := validateSessionID(p.SessionID); err != nil {
			return nil, err
		}
		if err := validateIdentifier(p.UserIdentifier); err != nil {
			return nil, err
		}
		in.JoinUser = &p

	case TypeJoinAdminSession:
		var p JoinAdminSession
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("invalid %s payload: %w", env.Type, err)
		}
		p.SessionID = sanitizeString(p.SessionID)
		if p.SessionID != "" {
			if err := validateSessionID(p.SessionID); err != nil {
				return nil, err
			}
		}
		in.JoinAdmin = &p

	case TypeUserMessage:
		var p UserMessage
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("invalid %s payload: %w", env.Type, err)
		}
		p.SessionID = sanitizeString(p.SessionID)
		p.Text = sanitizeString(p.Text)
		p.UserIdentifier = sanitizeString(p.UserIdentifier)
		if err := validateSessionID(p.SessionID); err != nil {
			return nil, err
		}
		if err := validateTextLength(p.Text); err != nil {
			return nil, err
		}
		if err := validateIdentifier(p.UserIdentifier); err != nil {
			return nil, err
		}
		in.UserMessage = &p

	case TypeAdminMessage:
		var p AdminMessage
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("invalid %s payload: %w", env.Type, err)
		}
		p.SessionID = sanitizeString(p.SessionID)
		p.Text = sanitizeString(p.Text)
		if err := validateSessionID(p.SessionID); err != nil {
			return nil, err
		}
		if p.Text == "" {
			return nil, &ValidationError{Field: "text", Message: "text is required for admin_message"}
		}
		if err := validateTextLength(p.Text); err != nil {
			return nil, err
		}
		in.AdminMessage = &p

	case TypeEscalateToAdmin:
		var p EscalateToAdmin
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("invalid %s payload: %w", env.Type, err)
		}
		p.SessionID = sanitizeString(p.SessionID)
		p.UserIdentifier = sanitizeString(p.UserIdentifier)
		p.Reason = sanitizeString(p.Reason)
		if err := validateSessionID(p.SessionID); err != nil {
			return nil, err
		}
		if err := validateIdentifier(p.UserIdentifier); err != nil {
			return nil, err
		}
		if err := validateReasonLength(p.Reason); err != nil {
			return nil, err
		}
		in.Escalate = &p

	default:
		return nil, fmt.Errorf("unknown envelope type %q", env.Type)
	}

	return in, nil
}

// Outbound is an envelope the broker sends to a connection. Data is
// always one of the typed payloads below, a Message wrapper, or a
// caller-provided session payload; there is no untyped construction
// path outside this package's constructors and NewOutbound.
type Outbound struct {
	Type OutboundType `json:"type"`
	Data interface{}  `json:"data,omitempty"`
}

// ConnectedData acknowledges a successful join.
type ConnectedData struct {
	ConnectionID string `json:"connection_id"`
	Role         string `json:"role"`
	SessionID    string `json:"session_id,omitempty"`
}

// MessageData wraps a single persisted message.
type MessageData struct {
	Message Message `json:"message"`
}

// EscalationRequestData announces a session awaiting an agent.
type EscalationRequestData struct {
	SessionID      string    `json:"session_id"`
	UserIdentifier string    `json:"user_identifier,omitempty"`
	Reason         string    `json:"reason"`
	RequestedAt    time.Time `json:"requested_at"`
}

// EscalationConfirmedData acknowledges an escalation to its requester.
type EscalationConfirmedData struct {
	SessionID    string `json:"session_id"`
	Confirmation string `json:"confirmation"`
}

// ErrorData carries a wire error.
type ErrorData struct {
	Error *ErrorInfo `json:"error"`
}

// NewOutbound builds an outbound envelope for payload shapes owned by
// other packages (session data, session summaries).
func NewOutbound(t OutboundType, data interface{}) Outbound {
	return Outbound{Type: t, Data: data}
}

// Connected builds the join acknowledgement envelope.
func Connected(connectionID, role, sessionID string) Outbound {
	return Outbound{Type: TypeConnected, Data: ConnectedData{
		ConnectionID: connectionID,
		Role:         role,
		SessionID:    sessionID,
	}}
}

// MessageSent builds the sender-side persistence acknowledgement.
func MessageSent(m Message) Outbound {
	return Outbound{Type: TypeMessageSent, Data: MessageData{Message: m}}
}

// MessageReceived builds the user-side delivery envelope.
func MessageReceived(m Message) Outbound {
	return Outbound{Type: TypeMessageReceived, Data: MessageData{Message: m}}
}

// NewUserMessage builds the agent-side delivery envelope.
func NewUserMessage(m Message) Outbound {
	return Outbound{Type: TypeNewUserMessage, Data: MessageData{Message: m}}
}

// EscalationRequest builds the agent-side escalation announcement.
func EscalationRequest(sessionID, userIdentifier, reason string, requestedAt time.Time) Outbound {
	return Outbound{Type: TypeEscalationRequest, Data: EscalationRequestData{
		SessionID:      sessionID,
		UserIdentifier: userIdentifier,
		Reason:         reason,
		RequestedAt:    requestedAt,
	}}
}

// EscalationConfirmed builds the requester-side escalation acknowledgement.
func EscalationConfirmed(sessionID, confirmation string) Outbound {
	return Outbound{Type: TypeEscalationConfirmed, Data: EscalationConfirmedData{
		SessionID:    sessionID,
		Confirmation: confirmation,
	}}
}

// ErrorEnvelope builds a wire error envelope.
func ErrorEnvelope(info *ErrorInfo) Outbound {
	return Outbound{Type: TypeError, Data: ErrorData{Error: info}}
}
