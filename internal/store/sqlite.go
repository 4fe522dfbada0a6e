package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"go.uber.org/zap"

	"gwi.com/cited-answers/internal/citation"
)

// ErrNotFound is returned when an update targets a row that does not exist or is not
// owned by the caller.
var ErrNotFound = errors.New("not found")

type SQLiteStore struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewSQLiteStore(dataSourceName string, logger *zap.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: SQLite serializes writers anyway, and ":memory:" databases are
	// per-connection.
	db.SetMaxOpenConns(1)
	if err = db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := newStore(db, logger)
	if err = store.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func newStore(db *sql.DB, logger *zap.Logger) *SQLiteStore {
	return &SQLiteStore{db: db, logger: logger}
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	schema := `
    CREATE TABLE IF NOT EXISTS conversations (
        id TEXT PRIMARY KEY, -- UUID
        user_id TEXT NOT NULL,
        title TEXT,
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
        updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
    );

    CREATE INDEX IF NOT EXISTS idx_conversations_user ON conversations (user_id, updated_at);

    CREATE TABLE IF NOT EXISTS messages (
        id TEXT PRIMARY KEY, -- UUID
        conversation_id TEXT NOT NULL,
        role TEXT NOT NULL CHECK (role IN ('user', 'assistant')),
        content TEXT NOT NULL,
        citations_json TEXT, -- JSON array of raw citations
        feedback TEXT,
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
        FOREIGN KEY (conversation_id) REFERENCES conversations (id)
    );

    CREATE TABLE IF NOT EXISTS documents (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        title TEXT NOT NULL,
        url TEXT NOT NULL,
        content TEXT NOT NULL,
        embedding_json TEXT -- JSON array of float32
    );

    CREATE INDEX IF NOT EXISTS idx_documents_url ON documents (url);
    `
	_, err := s.db.Exec(schema)
	return err
}

// Conversation methods
func (s *SQLiteStore) CreateConversation(userID string, title *string) (*Conversation, error) {
	id := uuid.NewString()
	stmt, err := s.db.Prepare("INSERT INTO conversations (id, user_id, title, created_at, updated_at) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		return nil, fmt.Errorf("failed to prepare conversation insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	if _, err = stmt.Exec(id, userID, title, now, now); err != nil {
		return nil, fmt.Errorf("failed to execute conversation insert: %w", err)
	}
	return &Conversation{ID: id, UserID: userID, Title: title, CreatedAt: now, UpdatedAt: now}, nil
}

func (s *SQLiteStore) GetConversation(id, userID string) (*Conversation, error) {
	var conv Conversation
	var title sql.NullString
	err := s.db.QueryRow("SELECT id, user_id, title, created_at, updated_at FROM conversations WHERE id = ? AND user_id = ?", id, userID).
		Scan(&conv.ID, &conv.UserID, &title, &conv.CreatedAt, &conv.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	if title.Valid {
		conv.Title = &title.String
	}
	return &conv, nil
}

// ListConversations returns one page of the user's conversations, most recently
// active first.
func (s *SQLiteStore) ListConversations(userID string, offset, limit int) ([]Conversation, error) {
	rows, err := s.db.Query(
		"SELECT id, user_id, title, created_at, updated_at FROM conversations WHERE user_id = ? ORDER BY updated_at DESC, rowid DESC LIMIT ? OFFSET ?",
		userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversations: %w", err)
	}
	defer rows.Close()

	conversations := []Conversation{}
	for rows.Next() {
		var conv Conversation
		var title sql.NullString
		if err := rows.Scan(&conv.ID, &conv.UserID, &title, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan conversation row: %w", err)
		}
		if title.Valid {
			conv.Title = &title.String
		}
		conversations = append(conversations, conv)
	}
	return conversations, rows.Err()
}

func (s *SQLiteStore) RenameConversation(id, userID, title string) error {
	res, err := s.db.Exec("UPDATE conversations SET title = ?, updated_at = ? WHERE id = ? AND user_id = ?", title, time.Now().UTC(), id, userID)
	if err != nil {
		return fmt.Errorf("failed to rename conversation: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return fmt.Errorf("conversation %s: %w", id, ErrNotFound)
	}
	return nil
}

// DeleteConversation removes the conversation and its messages.
func (s *SQLiteStore) DeleteConversation(id, userID string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin delete: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec("DELETE FROM conversations WHERE id = ? AND user_id = ?", id, userID)
	if err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return fmt.Errorf("conversation %s: %w", id, ErrNotFound)
	}
	if _, err := tx.Exec("DELETE FROM messages WHERE conversation_id = ?", id); err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}
	return tx.Commit()
}

// DeleteAllConversations removes every conversation of userID with its messages and
// returns how many conversations were deleted.
func (s *SQLiteStore) DeleteAllConversations(userID string) (int, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin delete: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM messages WHERE conversation_id IN (SELECT id FROM conversations WHERE user_id = ?)", userID); err != nil {
		return 0, fmt.Errorf("failed to delete messages: %w", err)
	}
	res, err := tx.Exec("DELETE FROM conversations WHERE user_id = ?", userID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete conversations: %w", err)
	}
	affected, _ := res.RowsAffected()
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return int(affected), nil
}

// ClearMessages deletes the messages of one of userID's conversations and keeps the
// conversation itself.
func (s *SQLiteStore) ClearMessages(conversationID, userID string) error {
	res, err := s.db.Exec(`
		DELETE FROM messages WHERE conversation_id = (
			SELECT id FROM conversations WHERE id = ? AND user_id = ?
		)`, conversationID, userID)
	if err != nil {
		return fmt.Errorf("failed to clear messages: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected > 0 {
		return nil
	}
	conv, err := s.GetConversation(conversationID, userID)
	if err != nil {
		return err
	}
	if conv == nil {
		return fmt.Errorf("conversation %s: %w", conversationID, ErrNotFound)
	}
	return nil
}

// Message methods
func (s *SQLiteStore) CreateMessage(msg *Message) error {
	msg.ID = uuid.NewString()
	msg.CreatedAt = time.Now().UTC()

	var citationsJSON sql.NullString
	if len(msg.Citations) > 0 {
		b, err := json.Marshal(msg.Citations)
		if err != nil {
			return fmt.Errorf("failed to marshal citations: %w", err)
		}
		citationsJSON = sql.NullString{String: string(b), Valid: true}
	}

	stmt, err := s.db.Prepare("INSERT INTO messages (id, conversation_id, role, content, citations_json, feedback, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare message insert: %w", err)
	}
	defer stmt.Close()

	if _, err = stmt.Exec(msg.ID, msg.ConversationID, msg.Role, msg.Content, citationsJSON, msg.Feedback, msg.CreatedAt); err != nil {
		return fmt.Errorf("failed to execute message insert: %w", err)
	}
	if _, err = s.db.Exec("UPDATE conversations SET updated_at = ? WHERE id = ?", msg.CreatedAt, msg.ConversationID); err != nil {
		s.logger.Warn("Failed to touch conversation", zap.String("conversation_id", msg.ConversationID), zap.Error(err))
	}
	return nil
}

const messageColumns = "id, conversation_id, role, content, citations_json, feedback, created_at"

func (s *SQLiteStore) GetMessages(conversationID string) ([]Message, error) {
	rows, err := s.db.Query("SELECT "+messageColumns+" FROM messages WHERE conversation_id = ? ORDER BY created_at ASC, rowid ASC", conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()
	return s.scanMessages(rows)
}

// GetLastNMessages returns the newest n messages in chronological order.
func (s *SQLiteStore) GetLastNMessages(conversationID string, n int) ([]Message, error) {
	query := `
        SELECT ` + messageColumns + ` FROM (
            SELECT rowid AS rid, * FROM messages
            WHERE conversation_id = ?
            ORDER BY created_at DESC, rowid DESC
            LIMIT ?
        ) ORDER BY created_at ASC, rid ASC
    `
	rows, err := s.db.Query(query, conversationID, n)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()
	return s.scanMessages(rows)
}

func (s *SQLiteStore) GetMessage(messageID, userID string) (*Message, error) {
	rows, err := s.db.Query(`
        SELECT m.id, m.conversation_id, m.role, m.content, m.citations_json, m.feedback, m.created_at
        FROM messages m JOIN conversations c ON c.id = m.conversation_id
        WHERE m.id = ? AND c.user_id = ?`, messageID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query message: %w", err)
	}
	defer rows.Close()

	messages, err := s.scanMessages(rows)
	if err != nil || len(messages) == 0 {
		return nil, err
	}
	return &messages[0], nil
}

// UpdateMessageFeedback stores the feedback value of a message the user owns.
func (s *SQLiteStore) UpdateMessageFeedback(userID, messageID, feedback string) error {
	stmt, err := s.db.Prepare(`
        UPDATE messages SET feedback = ?
        WHERE id = ? AND conversation_id IN (SELECT id FROM conversations WHERE user_id = ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare feedback update: %w", err)
	}
	defer stmt.Close()

	res, err := stmt.Exec(feedback, messageID, userID)
	if err != nil {
		return fmt.Errorf("failed to execute feedback update: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return fmt.Errorf("message %s: %w", messageID, ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) scanMessages(rows *sql.Rows) ([]Message, error) {
	messages := []Message{}
	for rows.Next() {
		var msg Message
		var citationsJSON, feedback sql.NullString
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.Role, &msg.Content, &citationsJSON, &feedback, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		if citationsJSON.Valid && citationsJSON.String != "" {
			var raw []*citation.RawCitation
			if err := json.Unmarshal([]byte(citationsJSON.String), &raw); err != nil {
				s.logger.Warn("Dropping unreadable citations", zap.String("message_id", msg.ID), zap.Error(err))
			} else {
				msg.Citations = raw
			}
		}
		if feedback.Valid {
			msg.Feedback = &feedback.String
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// Document methods (citation sources)
func (s *SQLiteStore) CreateDocument(doc *Document) error {
	var embeddingJSON sql.NullString
	if len(doc.Embedding) > 0 {
		b, err := json.Marshal(doc.Embedding)
		if err != nil {
			return fmt.Errorf("failed to marshal embedding: %w", err)
		}
		embeddingJSON = sql.NullString{String: string(b), Valid: true}
	}

	res, err := s.db.Exec("INSERT INTO documents (title, url, content, embedding_json) VALUES (?, ?, ?, ?)", doc.Title, doc.URL, doc.Content, embeddingJSON)
	if err != nil {
		return fmt.Errorf("failed to insert document: %w", err)
	}
	doc.ID, _ = res.LastInsertId()
	return nil
}

func (s *SQLiteStore) GetAllDocuments() ([]Document, error) {
	rows, err := s.db.Query("SELECT id, title, url, content, embedding_json FROM documents ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		doc, err := s.scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// GetDocumentByURL returns nil, nil when no document has that url.
func (s *SQLiteStore) GetDocumentByURL(url string) (*Document, error) {
	rows, err := s.db.Query("SELECT id, title, url, content, embedding_json FROM documents WHERE url = ? ORDER BY id LIMIT 1", url)
	if err != nil {
		return nil, fmt.Errorf("failed to query document: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	doc, err := s.scanDocument(rows)
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

func (s *SQLiteStore) scanDocument(rows *sql.Rows) (Document, error) {
	var doc Document
	var embeddingJSON sql.NullString
	if err := rows.Scan(&doc.ID, &doc.Title, &doc.URL, &doc.Content, &embeddingJSON); err != nil {
		return doc, fmt.Errorf("failed to scan document row: %w", err)
	}
	if embeddingJSON.Valid && embeddingJSON.String != "" {
		if err := json.Unmarshal([]byte(embeddingJSON.String), &doc.Embedding); err != nil {
			s.logger.Warn("Document has unreadable embedding", zap.Int64("document_id", doc.ID), zap.Error(err))
			doc.Embedding = nil
		}
	}
	return doc, nil
}

func (s *SQLiteStore) ClearDocuments() error {
	if _, err := s.db.Exec("DELETE FROM documents"); err != nil {
		return fmt.Errorf("failed to delete documents: %w", err)
	}
	_, err := s.db.Exec("DELETE FROM sqlite_sequence WHERE name='documents'")
	if err != nil && !strings.Contains(err.Error(), "no such table") {
		s.logger.Warn("Could not reset sequence for documents", zap.Error(err))
	}
	return nil
}

// ParseDocumentTable reads a markdown table with title, url and content columns.
// The header row and separator row are skipped.
func ParseDocumentTable(content string) []Document {
	var docs []Document
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "|") || !strings.HasSuffix(line, "|") {
			continue
		}
		cells := strings.Split(strings.Trim(line, "|"), "|")
		if len(cells) < 3 {
			continue
		}
		title := strings.TrimSpace(cells[0])
		url := strings.TrimSpace(cells[1])
		body := strings.TrimSpace(strings.Join(cells[2:], "|"))

		if strings.EqualFold(title, "title") && strings.EqualFold(url, "url") {
			continue
		}
		if strings.Trim(title, "-: ") == "" && strings.Trim(url, "-: ") == "" {
			continue
		}
		if url == "" || body == "" {
			continue
		}
		docs = append(docs, Document{Title: title, URL: url, Content: body})
	}
	return docs
}

// IngestDocumentsFromFile replaces the document set with the rows of a markdown table,
// embedding each one. Rows that fail to embed are skipped.
func (s *SQLiteStore) IngestDocumentsFromFile(filePath string, embedder func(string) ([]float32, error)) (int, error) {
	contentBytes, err := os.ReadFile(filePath)
	if err != nil {
		return 0, fmt.Errorf("failed to read data file %s: %w", filePath, err)
	}

	docs := ParseDocumentTable(string(contentBytes))
	if len(docs) == 0 {
		s.logger.Warn("No documents found; expected a markdown table with title, url and content columns", zap.String("file", filePath))
		return 0, nil
	}
	s.logger.Info("Parsed documents, embedding", zap.Int("documents", len(docs)))

	if err := s.ClearDocuments(); err != nil {
		return 0, fmt.Errorf("failed to clear existing documents: %w", err)
	}

	ticker := time.NewTicker(40 * time.Millisecond) // stay under the embedding rate limit
	defer ticker.Stop()

	count := 0
	for i := range docs {
		<-ticker.C

		embedding, err := embedder(docs[i].Title + "\n" + docs[i].Content)
		if err != nil {
			s.logger.Warn("Failed to embed document, skipping", zap.Int("row", i+1), zap.String("url", docs[i].URL), zap.Error(err))
			continue
		}
		docs[i].Embedding = embedding
		if err := s.CreateDocument(&docs[i]); err != nil {
			s.logger.Warn("Failed to store document, skipping", zap.Int("row", i+1), zap.Error(err))
			continue
		}
		count++
	}
	s.logger.Info("Ingested documents", zap.Int("ingested", count), zap.Int("parsed", len(docs)))
	return count, nil
}
