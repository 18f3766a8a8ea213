package storage

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/real-rm/supportchat/internal/message"
	"github.com/real-rm/supportchat/internal/session"
)

func testSession(id string, now time.Time) *session.Session {
	sess := session.New(id, "user@example.com", now)
	return sess
}

func TestGuardClauses(t *testing.T) {
	repo := &Repository{}

	t.Run("create rejects nil session", func(t *testing.T) {
		assert.ErrorIs(t, repo.CreateSession(nil), ErrInvalidSession)
	})

	t.Run("create rejects empty session id", func(t *testing.T) {
		sess := testSession("", time.Now())
		assert.ErrorIs(t, repo.CreateSession(sess), ErrInvalidSessionID)
	})

	t.Run("update rejects nil session", func(t *testing.T) {
		assert.ErrorIs(t, repo.UpdateSession(nil), ErrInvalidSession)
	})

	t.Run("update rejects empty session id", func(t *testing.T) {
		sess := testSession("", time.Now())
		assert.ErrorIs(t, repo.UpdateSession(sess), ErrInvalidSessionID)
	})

	t.Run("get rejects empty session id", func(t *testing.T) {
		_, err := repo.GetSession("")
		assert.ErrorIs(t, err, ErrInvalidSessionID)
	})

	t.Run("append rejects empty session id", func(t *testing.T) {
		msg := message.New("s1", 1, "hi", message.SenderUser, time.Now())
		assert.ErrorIs(t, repo.AppendMessage("", msg), ErrInvalidSessionID)
	})
}

func TestDocumentConversion(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("round trip without encryption", func(t *testing.T) {
		repo := &Repository{}

		sess := testSession("session-1", now)
		require.NoError(t, sess.AppendMessage(message.New("session-1", 1, "hello", message.SenderUser, now)))
		require.NoError(t, sess.AppendMessage(message.New("session-1", 2, "hi there", message.SenderAgent, now.Add(time.Minute))))
		sess.AssignedAgentID = "agent-7"
		sess.Escalated = true

		doc, err := repo.sessionToDocument(sess)
		require.NoError(t, err)
		assert.Equal(t, "session-1", doc.ID)
		assert.Equal(t, "user@example.com", doc.UserIdentifier)
		assert.Equal(t, "agent-7", doc.AssignedAgentID)
		assert.Equal(t, string(session.StatusActive), doc.Status)
		assert.True(t, doc.Escalated)
		require.Len(t, doc.Messages, 2)
		assert.Equal(t, "hello", doc.Messages[0].Text)
		assert.Equal(t, int64(2), doc.Messages[1].Seq)

		back := repo.documentToSession(doc)
		assert.Equal(t, sess.ID, back.ID)
		assert.Equal(t, sess.UserIdentifier, back.UserIdentifier)
		assert.Equal(t, sess.AssignedAgentID, back.AssignedAgentID)
		assert.Equal(t, sess.Status, back.Status)
		assert.Equal(t, sess.Escalated, back.Escalated)
		require.Len(t, back.Messages, 2)
		assert.Equal(t, "session-1#1", back.Messages[0].ID)
		assert.Equal(t, "hi there", back.Messages[1].Text)
		assert.Equal(t, message.SenderAgent, back.Messages[1].Sender)
	})

	t.Run("round trip with encryption", func(t *testing.T) {
		key := []byte("0123456789abcdef0123456789abcdef")
		repo := &Repository{encryptionKey: key}

		sess := testSession("session-2", now)
		require.NoError(t, sess.AppendMessage(message.New("session-2", 1, "secret text", message.SenderUser, now)))

		doc, err := repo.sessionToDocument(sess)
		require.NoError(t, err)
		require.Len(t, doc.Messages, 1)
		assert.NotEqual(t, "secret text", doc.Messages[0].Text)

		back := repo.documentToSession(doc)
		require.Len(t, back.Messages, 1)
		assert.Equal(t, "secret text", back.Messages[0].Text)
	})

	t.Run("plaintext documents survive a configured key", func(t *testing.T) {
		// Documents written before encryption was enabled decrypt as-is
		key := []byte("0123456789abcdef0123456789abcdef")
		repo := &Repository{encryptionKey: key}

		doc := &SessionDocument{
			ID:     "session-3",
			Status: string(session.StatusActive),
			Messages: []MessageDocument{
				{Seq: 1, Text: "plain old text", Sender: "user", Timestamp: now},
			},
			CreatedAt:      now,
			LastActivityAt: now,
		}

		back := repo.documentToSession(doc)
		require.Len(t, back.Messages, 1)
		assert.Equal(t, "plain old text", back.Messages[0].Text)
	})
}

func TestEncryptDecrypt(t *testing.T) {
	key := []byte("0123456789abcdef0123456789abcdef")

	t.Run("no key passes text through", func(t *testing.T) {
		repo := &Repository{}
		out, err := repo.encrypt("hello")
		require.NoError(t, err)
		assert.Equal(t, "hello", out)

		back, err := repo.decrypt(out)
		require.NoError(t, err)
		assert.Equal(t, "hello", back)
	})

	t.Run("invalid key size fails", func(t *testing.T) {
		repo := &Repository{encryptionKey: []byte("short")}
		_, err := repo.encrypt("hello")
		assert.Error(t, err)
	})

	t.Run("unicode round trip", func(t *testing.T) {
		repo := &Repository{encryptionKey: key}
		plaintext := "héllo wörld 你好 🎉"

		ciphertext, err := repo.encrypt(plaintext)
		require.NoError(t, err)
		assert.NotEqual(t, plaintext, ciphertext)

		back, err := repo.decrypt(ciphertext)
		require.NoError(t, err)
		assert.Equal(t, plaintext, back)
	})

	t.Run("invalid base64 fails to decrypt", func(t *testing.T) {
		repo := &Repository{encryptionKey: key}
		_, err := repo.decrypt("not-base64!!!")
		assert.Error(t, err)
	})

	t.Run("short ciphertext fails to decrypt", func(t *testing.T) {
		repo := &Repository{encryptionKey: key}
		_, err := repo.decrypt("YWJj") // "abc", shorter than a nonce
		assert.Error(t, err)
	})
}

func TestMongoCreateAndGet(t *testing.T) {
	repo, cleanup := setupTestRepository(t)
	defer cleanup()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	sess := testSession(session.NewID(), now)

	require.NoError(t, repo.CreateSession(sess))

	got, err := repo.GetSession(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, got.ID)
	assert.Equal(t, "user@example.com", got.UserIdentifier)
	assert.Equal(t, session.StatusActive, got.Status)
	assert.False(t, got.Escalated)
	assert.Empty(t, got.Messages)
	assert.WithinDuration(t, now, got.CreatedAt, time.Millisecond)
	assert.WithinDuration(t, now, got.LastActivityAt, time.Millisecond)
}

func TestMongoGetMissingSession(t *testing.T) {
	repo, cleanup := setupTestRepository(t)
	defer cleanup()

	_, err := repo.GetSession("no-such-session")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestMongoAppendMessage(t *testing.T) {
	repo, cleanup := setupTestRepository(t)
	defer cleanup()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	sess := testSession(session.NewID(), now)
	require.NoError(t, repo.CreateSession(sess))

	first := message.New(sess.ID, 1, "I need help", message.SenderUser, now.Add(time.Second))
	second := message.New(sess.ID, 2, "On it", message.SenderAgent, now.Add(2*time.Second))
	require.NoError(t, repo.AppendMessage(sess.ID, first))
	require.NoError(t, repo.AppendMessage(sess.ID, second))

	got, err := repo.GetSession(sess.ID)
	require.NoError(t, err)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, int64(1), got.Messages[0].Seq)
	assert.Equal(t, "I need help", got.Messages[0].Text)
	assert.Equal(t, message.SenderUser, got.Messages[0].Sender)
	assert.Equal(t, int64(2), got.Messages[1].Seq)
	assert.Equal(t, message.SenderAgent, got.Messages[1].Sender)
	assert.WithinDuration(t, second.Timestamp, got.LastActivityAt, time.Millisecond)
}

func TestMongoAppendToMissingSession(t *testing.T) {
	repo, cleanup := setupTestRepository(t)
	defer cleanup()

	msg := message.New("ghost", 1, "anyone there", message.SenderUser, time.Now())
	err := repo.AppendMessage("ghost", msg)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestMongoAppendAgentMessage(t *testing.T) {
	repo, cleanup := setupTestRepository(t)
	defer cleanup()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	sess := testSession(session.NewID(), now)
	require.NoError(t, repo.CreateSession(sess))

	reply := message.New(sess.ID, 1, "Agent here, looking into it", message.SenderAgent, now.Add(time.Second))
	require.NoError(t, repo.AppendAgentMessage(sess.ID, reply, "agent-7"))

	got, err := repo.GetSession(sess.ID)
	require.NoError(t, err)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, message.SenderAgent, got.Messages[0].Sender)
	assert.Equal(t, "agent-7", got.AssignedAgentID)
	assert.Equal(t, session.StatusActive, got.Status)
	assert.True(t, got.Escalated)
	assert.WithinDuration(t, reply.Timestamp, got.LastActivityAt, time.Millisecond)

	t.Run("missing session is reported", func(t *testing.T) {
		err := repo.AppendAgentMessage("ghost", reply, "agent-7")
		assert.ErrorIs(t, err, ErrSessionNotFound)
	})

	t.Run("agent id is required", func(t *testing.T) {
		err := repo.AppendAgentMessage(sess.ID, reply, "")
		assert.Error(t, err)
	})
}

func TestMongoUpdateSession(t *testing.T) {
	repo, cleanup := setupTestRepository(t)
	defer cleanup()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	sess := testSession(session.NewID(), now)
	require.NoError(t, repo.CreateSession(sess))
	require.NoError(t, repo.AppendMessage(sess.ID, message.New(sess.ID, 1, "help", message.SenderUser, now)))

	t.Run("workflow fields persist", func(t *testing.T) {
		updated := sess.Clone()
		require.NoError(t, updated.Escalate())
		updated.LastActivityAt = now.Add(time.Minute)
		require.NoError(t, repo.UpdateSession(updated))

		got, err := repo.GetSession(sess.ID)
		require.NoError(t, err)
		assert.Equal(t, session.StatusPendingAgent, got.Status)
		assert.True(t, got.Escalated)
		assert.WithinDuration(t, now.Add(time.Minute), got.LastActivityAt, time.Millisecond)
	})

	t.Run("update does not clobber the transcript", func(t *testing.T) {
		// The update carries a stale empty message slice; $push-managed
		// msgs must survive
		stale := session.New(sess.ID, sess.UserIdentifier, now)
		require.NoError(t, stale.SetStatus(session.StatusResolved, ""))
		require.NoError(t, repo.UpdateSession(stale))

		got, err := repo.GetSession(sess.ID)
		require.NoError(t, err)
		assert.Equal(t, session.StatusResolved, got.Status)
		require.Len(t, got.Messages, 1)
		assert.Equal(t, "help", got.Messages[0].Text)
	})

	t.Run("missing session is reported", func(t *testing.T) {
		ghost := testSession("ghost", now)
		assert.ErrorIs(t, repo.UpdateSession(ghost), ErrSessionNotFound)
	})
}

func TestMongoListActiveSessions(t *testing.T) {
	repo, cleanup := setupTestRepository(t)
	defer cleanup()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	oldest := testSession(session.NewID(), base)
	middle := testSession(session.NewID(), base.Add(time.Hour))
	require.NoError(t, middle.Escalate())
	newest := testSession(session.NewID(), base.Add(2*time.Hour))
	closed := testSession(session.NewID(), base.Add(3*time.Hour))
	require.NoError(t, closed.SetStatus(session.StatusResolved, ""))

	for _, sess := range []*session.Session{oldest, middle, newest, closed} {
		require.NoError(t, repo.CreateSession(sess))
	}

	got, err := repo.ListActiveSessions(0)
	require.NoError(t, err)
	require.Len(t, got, 3)

	// Most recently active first, resolved excluded
	assert.Equal(t, newest.ID, got[0].ID)
	assert.Equal(t, middle.ID, got[1].ID)
	assert.Equal(t, oldest.ID, got[2].ID)
	assert.Equal(t, session.StatusPendingAgent, got[1].Status)

	limited, err := repo.ListActiveSessions(2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestMongoEnsureIndexes(t *testing.T) {
	repo, cleanup := setupTestRepository(t)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	require.NoError(t, repo.EnsureIndexes(ctx))
}

func TestMongoEncryptedTranscript(t *testing.T) {
	mongoClient, logger := getSharedMongoClient(t)
	if mongoClient == nil {
		return
	}

	collectionName := fmt.Sprintf("test_sessions_%d_%s", time.Now().UnixNano(), t.Name())
	key := []byte("0123456789abcdef0123456789abcdef")
	encrypted := NewRepository(mongoClient, "supportchat", collectionName, logger, key)
	raw := NewRepository(mongoClient, "supportchat", collectionName, logger, nil)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		db, _ := mongoClient.Database("supportchat")
		if db != nil {
			db.Coll(collectionName).Drop(ctx)
		}
	}()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	sess := testSession(session.NewID(), now)
	require.NoError(t, encrypted.CreateSession(sess))
	require.NoError(t, encrypted.AppendMessage(sess.ID, message.New(sess.ID, 1, "card ending 4242", message.SenderUser, now)))

	// Reading through the keyed repository decrypts
	got, err := encrypted.GetSession(sess.ID)
	require.NoError(t, err)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "card ending 4242", got.Messages[0].Text)

	// Reading the same collection without the key shows ciphertext only
	opaque, err := raw.GetSession(sess.ID)
	require.NoError(t, err)
	require.Len(t, opaque.Messages, 1)
	assert.NotEqual(t, "card ending 4242", opaque.Messages[0].Text)
	assert.NotContains(t, opaque.Messages[0].Text, "4242")
}
