package message

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeInbound_ValidEnvelopes(t *testing.T) {
	tests := []struct {
		name  string
		raw   string
		check func(t *testing.T, in *Inbound)
	}{
		{
			name: "join_user_session",
			raw:  `{"type":"join_user_session","data":{"session_id":"s1","user_identifier":"a@x.com"}}`,
			check: func(t *testing.T, in *Inbound) {
				assert.Equal(t, TypeJoinUserSession, in.Type)
				require.NotNil(t, in.JoinUser)
				assert.Equal(t, "s1", in.JoinUser.SessionID)
				assert.Equal(t, "a@x.com", in.JoinUser.UserIdentifier)
			},
		},
		{
			name: "join_admin_session without session",
			raw:  `{"type":"join_admin_session"}`,
			check: func(t *testing.T, in *Inbound) {
				assert.Equal(t, TypeJoinAdminSession, in.Type)
				require.NotNil(t, in.JoinAdmin)
				assert.Empty(t, in.JoinAdmin.SessionID)
			},
		},
		{
			name: "join_admin_session with session",
			raw:  `{"type":"join_admin_session","data":{"session_id":"s1"}}`,
			check: func(t *testing.T, in *Inbound) {
				require.NotNil(t, in.JoinAdmin)
				assert.Equal(t, "s1", in.JoinAdmin.SessionID)
			},
		},
		{
			name: "user_message",
			raw:  `{"type":"user_message","data":{"session_id":"s1","text":"Hello","user_identifier":"a@x.com"}}`,
			check: func(t *testing.T, in *Inbound) {
				assert.Equal(t, TypeUserMessage, in.Type)
				require.NotNil(t, in.UserMessage)
				assert.Equal(t, "Hello", in.UserMessage.Text)
			},
		},
		{
			name: "user_message with blank text decodes",
			raw:  `{"type":"user_message","data":{"session_id":"s1","text":"   "}}`,
			check: func(t *testing.T, in *Inbound) {
				require.NotNil(t, in.UserMessage)
				// Whitespace trims away; the broker skips blank text silently.
				assert.Empty(t, in.UserMessage.Text)
			},
		},
		{
			name: "admin_message",
			raw:  `{"type":"admin_message","data":{"session_id":"s1","text":"Hi, how can I help?"}}`,
			check: func(t *testing.T, in *Inbound) {
				assert.Equal(t, TypeAdminMessage, in.Type)
				require.NotNil(t, in.AdminMessage)
				assert.Equal(t, "Hi, how can I help?", in.AdminMessage.Text)
			},
		},
		{
			name: "escalate_to_admin",
			raw:  `{"type":"escalate_to_admin","data":{"session_id":"s1","user_identifier":"a@x.com","reason":"need human"}}`,
			check: func(t *testing.T, in *Inbound) {
				assert.Equal(t, TypeEscalateToAdmin, in.Type)
				require.NotNil(t, in.Escalate)
				assert.Equal(t, "need human", in.Escalate.Reason)
			},
		},
		{
			name: "escalate_to_admin without reason",
			raw:  `{"type":"escalate_to_admin","data":{"session_id":"s1"}}`,
			check: func(t *testing.T, in *Inbound) {
				require.NotNil(t, in.Escalate)
				assert.Empty(t, in.Escalate.Reason)
			},
		},
		{
			name: "null bytes stripped from text",
			raw:  `{"type":"user_message","data":{"session_id":"s1","text":"Hel\u0000lo"}}`,
			check: func(t *testing.T, in *Inbound) {
				require.NotNil(t, in.UserMessage)
				assert.Equal(t, "Hello", in.UserMessage.Text)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in, err := DecodeInbound([]byte(tt.raw))
			require.NoError(t, err)
			tt.check(t, in)
		})
	}
}

func TestDecodeInbound_ExactlyOnePayload(t *testing.T) {
	in, err := DecodeInbound([]byte(`{"type":"user_message","data":{"session_id":"s1","text":"hi"}}`))
	require.NoError(t, err)

	nonNil := 0
	if in.JoinUser != nil {
		nonNil++
	}
	if in.JoinAdmin != nil {
		nonNil++
	}
	if in.UserMessage != nil {
		nonNil++
	}
	if in.AdminMessage != nil {
		nonNil++
	}
	if in.Escalate != nil {
		nonNil++
	}
	assert.Equal(t, 1, nonNil, "exactly one payload variant must be set")
}

func TestDecodeInbound_Rejections(t *testing.T) {
	tests := []struct {
		name       string
		raw        string
		wantField  string // expected ValidationError field, empty for generic errors
		wantLength bool   // expect a LengthError
	}{
		{
			name: "invalid JSON",
			raw:  `{not json at all`,
		},
		{
			name: "unknown type",
			raw:  `{"type":"shutdown_everything","data":{}}`,
		},
		{
			name:      "missing type",
			raw:       `{"data":{"session_id":"s1"}}`,
			wantField: "type",
		},
		{
			name:      "user_message without session_id",
			raw:       `{"type":"user_message","data":{"text":"hi"}}`,
			wantField: "session_id",
		},
		{
			name:      "admin_message without text",
			raw:       `{"type":"admin_message","data":{"session_id":"s1"}}`,
			wantField: "text",
		},
		{
			name:      "join_user_session without session_id",
			raw:       `{"type":"join_user_session","data":{}}`,
			wantField: "session_id",
		},
		{
			name:       "oversized text",
			raw:        `{"type":"user_message","data":{"session_id":"s1","text":"` + strings.Repeat("a", MaxTextLength+1) + `"}}`,
			wantLength: true,
		},
		{
			name:       "oversized session id",
			raw:        `{"type":"user_message","data":{"session_id":"` + strings.Repeat("s", MaxSessionIDLength+1) + `","text":"hi"}}`,
			wantLength: true,
		},
		{
			name:       "oversized reason",
			raw:        `{"type":"escalate_to_admin","data":{"session_id":"s1","reason":"` + strings.Repeat("r", MaxReasonLength+1) + `"}}`,
			wantLength: true,
		},
		{
			name: "payload shape mismatch",
			raw:  `{"type":"user_message","data":[1,2,3]}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in, err := DecodeInbound([]byte(tt.raw))
			require.Error(t, err)
			assert.Nil(t, in)

			if tt.wantField != "" {
				var verr *ValidationError
				require.ErrorAs(t, err, &verr)
				assert.Equal(t, tt.wantField, verr.Field)
			}
			if tt.wantLength {
				var lerr *LengthError
				require.ErrorAs(t, err, &lerr)
				assert.Greater(t, lerr.Length, lerr.Max)
			}
		})
	}
}

func TestOutboundConstructors(t *testing.T) {
	ts := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	msg := New("s1", 1, "Hello", SenderUser, ts)

	tests := []struct {
		name     string
		envelope Outbound
		wantType OutboundType
	}{
		{"connected", Connected("conn-1", "user", "s1"), TypeConnected},
		{"message_sent", MessageSent(msg), TypeMessageSent},
		{"message_received", MessageReceived(msg), TypeMessageReceived},
		{"new_user_message", NewUserMessage(msg), TypeNewUserMessage},
		{"escalation_request", EscalationRequest("s1", "a@x.com", "need human", ts), TypeEscalationRequest},
		{"escalation_confirmed", EscalationConfirmed("s1", "An agent will be with you shortly."), TypeEscalationConfirmed},
		{"error", ErrorEnvelope(&ErrorInfo{Code: "SESSION_CLOSED", Message: "closed", Recoverable: true}), TypeError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantType, tt.envelope.Type)

			data, err := json.Marshal(tt.envelope)
			require.NoError(t, err)

			var wire map[string]interface{}
			require.NoError(t, json.Unmarshal(data, &wire))
			assert.Equal(t, string(tt.wantType), wire["type"])
			assert.Contains(t, wire, "data")
		})
	}
}

func TestOutbound_MessagePayloadShape(t *testing.T) {
	msg := New("s1", 4, "Anyone there?", SenderUser, time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC))
	data, err := json.Marshal(MessageSent(msg))
	require.NoError(t, err)

	var wire struct {
		Type string `json:"type"`
		Data struct {
			Message Message `json:"message"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(data, &wire))
	assert.Equal(t, "message_sent", wire.Type)
	assert.Equal(t, "s1#4", wire.Data.Message.ID)
	assert.Equal(t, int64(4), wire.Data.Message.Seq)
	assert.Equal(t, SenderUser, wire.Data.Message.Sender)
}
