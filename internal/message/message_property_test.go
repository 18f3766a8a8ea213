package message

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// Feature: support-chat-broker
// Property: Message JSON round trip preserves all fields
func TestProperty_MessageRoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 20
	properties := gopter.NewProperties(parameters)

	properties.Property("marshaling then unmarshaling preserves the message", prop.ForAll(
		func(msg Message) bool {
			data, err := json.Marshal(msg)
			if err != nil {
				return false
			}

			var parsed Message
			if err := json.Unmarshal(data, &parsed); err != nil {
				return false
			}

			if msg.ID != parsed.ID {
				return false
			}
			if msg.Seq != parsed.Seq {
				return false
			}
			if msg.SessionID != parsed.SessionID {
				return false
			}
			if msg.Text != parsed.Text {
				return false
			}
			if msg.Sender != parsed.Sender {
				return false
			}

			// RFC3339 drops sub-second precision
			return msg.Timestamp.Truncate(time.Second).Equal(parsed.Timestamp.Truncate(time.Second))
		},
		genMessage(),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}

// Feature: support-chat-broker
// Property: message ids are unique and ordered within a session
func TestProperty_MessageIDOrdering(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 20
	properties := gopter.NewProperties(parameters)

	properties.Property("ids embed the sequence and never collide across sequences", prop.ForAll(
		func(sessionID string, seqA, seqB int64) bool {
			a := New(sessionID, seqA, "a", SenderUser, time.Now())
			b := New(sessionID, seqB, "b", SenderUser, time.Now())

			if seqA == seqB {
				return a.ID == b.ID
			}
			return a.ID != b.ID
		},
		gen.Identifier(),
		gen.Int64Range(1, 1_000_000),
		gen.Int64Range(1, 1_000_000),
	))

	properties.Property("ids embed their session id", prop.ForAll(
		func(sessionID string, seq int64) bool {
			m := New(sessionID, seq, "text", SenderAgent, time.Now())
			return m.ID == fmt.Sprintf("%s#%d", sessionID, seq)
		},
		gen.Identifier(),
		gen.Int64Range(1, 1_000_000),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}

// Feature: support-chat-broker
// Property: decoding a user_message envelope never panics and either
// yields a typed payload or a descriptive error
func TestProperty_DecodeInboundTotal(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 20
	properties := gopter.NewProperties(parameters)

	properties.Property("user_message decode is total over identifier-shaped inputs", prop.ForAll(
		func(sessionID, text string) bool {
			raw, err := json.Marshal(map[string]interface{}{
				"type": "user_message",
				"data": map[string]string{"session_id": sessionID, "text": text},
			})
			if err != nil {
				return false
			}

			in, err := DecodeInbound(raw)
			if err != nil {
				// Only field-level rejections are acceptable for well-formed JSON
				return in == nil
			}
			return in.Type == TypeUserMessage && in.UserMessage != nil
		},
		gen.Identifier(),
		gen.AlphaString(),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}

// genMessage generates arbitrary valid messages.
func genMessage() gopter.Gen {
	return gopter.CombineGens(
		gen.Identifier(),
		gen.Int64Range(1, 100000),
		gen.AlphaString(),
		gen.OneConstOf(SenderUser, SenderAgent, SenderBot),
		gen.Int64Range(0, 4102444800), // Unix seconds through year 2100
	).Map(func(values []interface{}) Message {
		sessionID := values[0].(string)
		seq := values[1].(int64)
		text := values[2].(string)
		sender := values[3].(Sender)
		ts := time.Unix(values[4].(int64), 0).UTC()
		return New(sessionID, seq, text, sender, ts)
	})
}
