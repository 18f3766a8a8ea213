package storage

import (
	"context"
	"crypto/aes"
	cipherPkg "crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/real-rm/golog"
	"github.com/real-rm/gomongo"
	"github.com/real-rm/supportchat/internal/constants"
	"github.com/real-rm/supportchat/internal/message"
	"github.com/real-rm/supportchat/internal/metrics"
	"github.com/real-rm/supportchat/internal/session"
	"github.com/real-rm/supportchat/internal/util"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var (
	// ErrInvalidSession is returned when session is nil
	ErrInvalidSession = errors.New("session cannot be nil")
	// ErrInvalidSessionID is returned when session ID is empty
	ErrInvalidSessionID = errors.New("session ID cannot be empty")
	// ErrSessionNotFound is returned when session is not found in database.
	// It wraps session.ErrSessionNotFound so callers behind the repository
	// interface can match on the domain sentinel.
	ErrSessionNotFound = fmt.Errorf("%w in database", session.ErrSessionNotFound)
)

// Repository manages session persistence in MongoDB using gomongo.
// Every call is a single attempt under a bounded timeout; callers decide
// what a failure means, nothing here retries on its own.
type Repository struct {
	mongo         *gomongo.Mongo
	collection    *gomongo.MongoCollection
	logger        *golog.Logger
	encryptionKey []byte         // Key for encrypting message text
	gcm           cipherPkg.AEAD // Pre-computed AES-GCM cipher (nil if encryption disabled)
}

// SessionDocument represents a session stored in MongoDB
type SessionDocument struct {
	ID              string            `bson:"_id"`
	UserIdentifier  string            `bson:"uid,omitempty"`
	AssignedAgentID string            `bson:"agentId,omitempty"`
	Status          string            `bson:"status"`
	Escalated       bool              `bson:"esc"`
	Messages        []MessageDocument `bson:"msgs"`
	CreatedAt       time.Time         `bson:"ts"`
	LastActivityAt  time.Time         `bson:"lastActivity"`
	ModifiedAt      time.Time         `bson:"_mt,omitempty"` // gomongo automatic timestamp
}

// MessageDocument represents a message stored in MongoDB
type MessageDocument struct {
	Seq       int64     `bson:"seq"`
	Text      string    `bson:"txt"`
	Sender    string    `bson:"sender"` // "user", "agent", "bot"
	Timestamp time.Time `bson:"ts"`
}

// NewRepository creates a session repository backed by gomongo.
// mongo: gomongo.Mongo instance (from gomongo.InitMongoDB)
// dbName: database name
// collName: collection name
// logger: golog.Logger instance for logging
// encryptionKey: should be 32 bytes for AES-256 encryption, empty to disable
func NewRepository(mongo *gomongo.Mongo, dbName, collName string, logger *golog.Logger, encryptionKey []byte) *Repository {
	collection := mongo.Coll(dbName, collName)

	repo := &Repository{
		mongo:         mongo,
		collection:    collection,
		logger:        logger,
		encryptionKey: encryptionKey,
	}

	// Pre-compute AES-GCM cipher to avoid per-call key schedule overhead
	if len(encryptionKey) > 0 {
		block, err := aes.NewCipher(encryptionKey)
		if err != nil {
			logger.Error("AES-GCM cipher initialization failed, encryption disabled", "error", err)
		} else {
			gcm, err := cipherPkg.NewGCM(block)
			if err != nil {
				logger.Error("AES-GCM initialization failed, encryption disabled", "error", err)
			} else {
				repo.gcm = gcm
			}
		}
	}

	return repo
}

// EnsureIndexes creates the necessary indexes for the sessions collection
// This should be called during application initialization to ensure optimal query performance
func (r *Repository) EnsureIndexes(ctx context.Context) error {
	// Index for user identifier lookups
	userIDIndex := mongo.IndexModel{
		Keys:    bson.D{{Key: constants.MongoFieldUserID, Value: 1}},
		Options: options.Index().SetName(constants.IndexUserID),
	}

	// Compound index backing the admin session list (status filter + recency sort)
	statusActivityIndex := mongo.IndexModel{
		Keys: bson.D{
			{Key: constants.MongoFieldStatus, Value: 1},
			{Key: constants.MongoFieldLastActivity, Value: -1},
		},
		Options: options.Index().SetName(constants.IndexStatusLastActivity),
	}

	// Index for recency-ordered scans across all sessions
	lastActivityIndex := mongo.IndexModel{
		Keys:    bson.D{{Key: constants.MongoFieldLastActivity, Value: -1}},
		Options: options.Index().SetName(constants.IndexLastActivity),
	}

	indexes := []mongo.IndexModel{
		userIDIndex,
		statusActivityIndex,
		lastActivityIndex,
	}

	_, err := r.collection.CreateIndexes(ctx, indexes)
	// No else needed: early return pattern (guard clause)
	if err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}

	r.logger.Info("MongoDB indexes created successfully",
		"indexes", []string{constants.IndexUserID, constants.IndexStatusLastActivity, constants.IndexLastActivity},
	)

	return nil
}

// CreateSession creates a new session document in MongoDB
func (r *Repository) CreateSession(sess *session.Session) error {
	// No else needed: early return pattern (guard clause)
	if sess == nil {
		return ErrInvalidSession
	}

	// No else needed: early return pattern (guard clause)
	if sess.ID == "" {
		return ErrInvalidSessionID
	}

	start := time.Now()
	defer func() {
		metrics.StoreLatency.With(prometheus.Labels{"operation": "create_session"}).Observe(time.Since(start).Seconds())
	}()

	ctx, cancel := util.NewTimeoutContext(constants.StoreWriteTimeout)
	defer cancel()

	doc, err := r.sessionToDocument(sess)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	_, err = r.collection.InsertOne(ctx, doc)
	// No else needed: early return pattern (guard clause)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	return nil
}

// UpdateSession persists the session's workflow fields (status, agent
// assignment, escalation flag, last activity). Messages are managed
// exclusively via AppendMessage ($push) to prevent overwriting
// concurrent message additions.
func (r *Repository) UpdateSession(sess *session.Session) error {
	// No else needed: early return pattern (guard clause)
	if sess == nil {
		return ErrInvalidSession
	}

	// No else needed: early return pattern (guard clause)
	if sess.ID == "" {
		return ErrInvalidSessionID
	}

	start := time.Now()
	defer func() {
		metrics.StoreLatency.With(prometheus.Labels{"operation": "update_session"}).Observe(time.Since(start).Seconds())
	}()

	ctx, cancel := util.NewTimeoutContext(constants.StoreWriteTimeout)
	defer cancel()

	doc, err := r.sessionToDocument(sess)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	// Marshal the struct to BSON and back to bson.M to ensure proper
	// field mapping with BSON tags
	docBytes, err := bson.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal session document: %w", err)
	}

	var updateFields bson.M
	err = bson.Unmarshal(docBytes, &updateFields)
	if err != nil {
		return fmt.Errorf("failed to unmarshal session document: %w", err)
	}

	// Remove _id field from update as it cannot be changed
	delete(updateFields, constants.MongoFieldID)
	// Messages flow through AppendMessage only
	delete(updateFields, constants.MongoFieldMessages)

	filter := bson.M{constants.MongoFieldID: sess.ID}
	update := bson.M{"$set": updateFields}

	result, err := r.collection.UpdateOne(ctx, filter, update)
	// No else needed: early return pattern (guard clause)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}

	// No else needed: early return pattern (guard clause)
	if result.MatchedCount == 0 {
		return ErrSessionNotFound
	}

	return nil
}

// GetSession retrieves a session from MongoDB by ID
func (r *Repository) GetSession(sessionID string) (*session.Session, error) {
	// No else needed: early return pattern (guard clause)
	if sessionID == "" {
		return nil, ErrInvalidSessionID
	}

	start := time.Now()
	defer func() {
		metrics.StoreLatency.With(prometheus.Labels{"operation": "get_session"}).Observe(time.Since(start).Seconds())
	}()

	ctx, cancel := util.NewTimeoutContext(constants.StoreReadTimeout)
	defer cancel()

	filter := bson.M{constants.MongoFieldID: sessionID}
	var doc SessionDocument

	result := r.collection.FindOne(ctx, filter)
	err := result.Decode(&doc)
	// No else needed: early return pattern (guard clause)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	return r.documentToSession(&doc), nil
}

// AppendMessage pushes a message onto a session's transcript and bumps
// its last activity in one atomic update. The write is the durability
// point for the message: once this returns nil the message survives a
// process restart.
func (r *Repository) AppendMessage(sessionID string, msg message.Message) error {
	// No else needed: early return pattern (guard clause)
	if sessionID == "" {
		return ErrInvalidSessionID
	}

	start := time.Now()
	defer func() {
		metrics.StoreLatency.With(prometheus.Labels{"operation": "append_message"}).Observe(time.Since(start).Seconds())
	}()

	ctx, cancel := util.NewTimeoutContext(constants.StoreWriteTimeout)
	defer cancel()

	msgDoc := MessageDocument{
		Seq:       msg.Seq,
		Text:      msg.Text,
		Sender:    string(msg.Sender),
		Timestamp: msg.Timestamp,
	}

	// Encrypt message text if encryption key is provided
	// No else needed: optional operation (only encrypt if key is available)
	if len(r.encryptionKey) > 0 {
		encrypted, err := r.encrypt(msgDoc.Text)
		// No else needed: early return pattern (guard clause)
		if err != nil {
			return fmt.Errorf("failed to encrypt message text: %w", err)
		}
		msgDoc.Text = encrypted
	}

	// Push message to messages array using gomongo (automatically updates _mt)
	filter := bson.M{constants.MongoFieldID: sessionID}
	update := bson.M{
		"$push": bson.M{constants.MongoFieldMessages: msgDoc},
		"$set":  bson.M{constants.MongoFieldLastActivity: msg.Timestamp},
	}

	result, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}

	if result.MatchedCount == 0 {
		return ErrSessionNotFound
	}

	return nil
}

// AppendAgentMessage pushes an agent message and staffs the session in a
// single atomic update: the transcript gains the message while the
// session becomes active, escalated, and assigned to the agent. Keeping
// both in one write means a crash between them can never leave an agent
// reply on an unstaffed session.
func (r *Repository) AppendAgentMessage(sessionID string, msg message.Message, agentID string) error {
	// No else needed: early return pattern (guard clause)
	if sessionID == "" {
		return ErrInvalidSessionID
	}
	// No else needed: early return pattern (guard clause)
	if agentID == "" {
		return fmt.Errorf("agent ID cannot be empty")
	}

	start := time.Now()
	defer func() {
		metrics.StoreLatency.With(prometheus.Labels{"operation": "append_agent_message"}).Observe(time.Since(start).Seconds())
	}()

	ctx, cancel := util.NewTimeoutContext(constants.StoreWriteTimeout)
	defer cancel()

	msgDoc := MessageDocument{
		Seq:       msg.Seq,
		Text:      msg.Text,
		Sender:    string(msg.Sender),
		Timestamp: msg.Timestamp,
	}

	// Encrypt message text if encryption key is provided
	// No else needed: optional operation (only encrypt if key is available)
	if len(r.encryptionKey) > 0 {
		encrypted, err := r.encrypt(msgDoc.Text)
		// No else needed: early return pattern (guard clause)
		if err != nil {
			return fmt.Errorf("failed to encrypt message text: %w", err)
		}
		msgDoc.Text = encrypted
	}

	filter := bson.M{constants.MongoFieldID: sessionID}
	update := bson.M{
		"$push": bson.M{constants.MongoFieldMessages: msgDoc},
		"$set": bson.M{
			constants.MongoFieldLastActivity: msg.Timestamp,
			constants.MongoFieldAgentID:      agentID,
			constants.MongoFieldStatus:       string(session.StatusActive),
			constants.MongoFieldEscalated:    true,
		},
	}

	result, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to append agent message: %w", err)
	}

	if result.MatchedCount == 0 {
		return ErrSessionNotFound
	}

	return nil
}

// ListActiveSessions returns sessions whose status is active or pending
// agent, most recently active first. The limit parameter caps the result;
// limit <= 0 falls back to constants.DefaultSessionLimit to prevent
// unbounded queries.
func (r *Repository) ListActiveSessions(limit int) ([]*session.Session, error) {
	start := time.Now()
	defer func() {
		metrics.StoreLatency.With(prometheus.Labels{"operation": "list_active_sessions"}).Observe(time.Since(start).Seconds())
	}()

	ctx, cancel := util.NewTimeoutContext(constants.StoreReadTimeout)
	defer cancel()

	// No else needed: optional operation (only default if unset)
	if limit <= 0 {
		limit = constants.DefaultSessionLimit
	}
	// No else needed: optional operation (only cap if exceeds max)
	if limit > constants.MaxSessionLimit {
		limit = constants.MaxSessionLimit
	}

	filter := bson.M{
		constants.MongoFieldStatus: bson.M{
			"$in": []string{string(session.StatusActive), string(session.StatusPendingAgent)},
		},
	}

	queryOpts := gomongo.QueryOptions{
		Sort:  bson.D{{Key: constants.MongoFieldLastActivity, Value: -1}},
		Limit: int64(limit),
	}

	cursor, err := r.collection.Find(ctx, filter, queryOpts)
	// No else needed: early return pattern (guard clause)
	if err != nil {
		return nil, fmt.Errorf("failed to list active sessions: %w", err)
	}
	defer cursor.Close(ctx)

	sessions := make([]*session.Session, 0)
	for cursor.Next(ctx) {
		var doc SessionDocument
		// No else needed: early return pattern (guard clause)
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode session document: %w", err)
		}
		sessions = append(sessions, r.documentToSession(&doc))
	}

	// No else needed: early return pattern (guard clause)
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("cursor error: %w", err)
	}

	return sessions, nil
}

// Ping verifies the MongoDB connection for readiness checks
func (r *Repository) Ping(ctx context.Context) error {
	return r.mongo.Ping(ctx)
}

// sessionToDocument converts a Session to a SessionDocument. Message
// text is encrypted when a key is configured so transcripts written via
// CreateSession match those written via AppendMessage.
func (r *Repository) sessionToDocument(sess *session.Session) (*SessionDocument, error) {
	messages := make([]MessageDocument, len(sess.Messages))
	for i, msg := range sess.Messages {
		text := msg.Text
		// No else needed: optional operation (only encrypt if key is available)
		if len(r.encryptionKey) > 0 {
			encrypted, err := r.encrypt(text)
			if err != nil {
				return nil, fmt.Errorf("failed to encrypt message text: %w", err)
			}
			text = encrypted
		}
		messages[i] = MessageDocument{
			Seq:       msg.Seq,
			Text:      text,
			Sender:    string(msg.Sender),
			Timestamp: msg.Timestamp,
		}
	}

	return &SessionDocument{
		ID:              sess.ID,
		UserIdentifier:  sess.UserIdentifier,
		AssignedAgentID: sess.AssignedAgentID,
		Status:          string(sess.Status),
		Escalated:       sess.Escalated,
		Messages:        messages,
		CreatedAt:       sess.CreatedAt,
		LastActivityAt:  sess.LastActivityAt,
	}, nil
}

// documentToSession converts a SessionDocument to a Session
func (r *Repository) documentToSession(doc *SessionDocument) *session.Session {
	messages := make([]message.Message, len(doc.Messages))
	for i, msg := range doc.Messages {
		text := msg.Text
		// Decrypt text if encryption key is provided
		// No else needed: optional operation (only decrypt if key is available)
		if len(r.encryptionKey) > 0 {
			decrypted, err := r.decrypt(msg.Text)
			// No else needed: optional operation (fallback to original on error)
			if err == nil {
				text = decrypted
			}
			// If decryption fails, use original text (might be unencrypted)
		}

		messages[i] = message.New(doc.ID, msg.Seq, text, message.Sender(msg.Sender), msg.Timestamp)
	}

	return &session.Session{
		ID:              doc.ID,
		UserIdentifier:  doc.UserIdentifier,
		AssignedAgentID: doc.AssignedAgentID,
		Status:          session.Status(doc.Status),
		Escalated:       doc.Escalated,
		Messages:        messages,
		CreatedAt:       doc.CreatedAt,
		LastActivityAt:  doc.LastActivityAt,
	}
}

// getGCM returns the pre-computed GCM cipher, or creates one on-the-fly from encryptionKey.
// Returns nil if encryption is disabled (no key).
func (r *Repository) getGCM() (cipherPkg.AEAD, error) {
	if r.gcm != nil {
		return r.gcm, nil
	}
	if len(r.encryptionKey) == 0 {
		return nil, nil
	}
	// Fallback: compute cipher from encryptionKey (used by tests that construct Repository directly)
	block, err := aes.NewCipher(r.encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("invalid encryption key size: %w", err)
	}
	gcm, err := cipherPkg.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

// encrypt encrypts data using AES-256-GCM
func (r *Repository) encrypt(plaintext string) (string, error) {
	gcm, err := r.getGCM()
	if err != nil {
		return "", err
	}
	if gcm == nil {
		return plaintext, nil
	}

	// Create nonce
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	// Encrypt and prepend nonce
	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)

	// Encode to base64 for storage
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// decrypt decrypts data using AES-256-GCM
func (r *Repository) decrypt(ciphertext string) (string, error) {
	gcm, err := r.getGCM()
	if err != nil {
		return "", err
	}
	if gcm == nil {
		return ciphertext, nil
	}

	// Decode from base64
	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("failed to decode base64: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", errors.New("ciphertext too short")
	}

	// Extract nonce and ciphertext
	nonce, ciphertextBytes := data[:nonceSize], data[nonceSize:]

	// Decrypt
	plaintext, err := gcm.Open(nil, nonce, ciphertextBytes, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt: %w", err)
	}

	return string(plaintext), nil
}
