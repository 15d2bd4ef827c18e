/*
 *  This Source Code Form is subject to the terms of the Mozilla Public
 *  License, v. 2.0. If a copy of the MPL was not distributed with this
 *  file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package sqlite3

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/tidemail/tidemail/internal/storage/types"
)

type TableMessages struct {
	db             *sql.DB
	writer         *Writer
	createMessage  *sql.Stmt
	selectMessage  *sql.Stmt
	selectByThread *sql.Stmt
	countByAuthor  *sql.Stmt
	selectInbox    *sql.Stmt
}

const insertMessageStmt = `
	INSERT INTO messages (thread_id, sender_id, body, sent_at)
	VALUES ($1, $2, $3, $4)
	RETURNING id;
`

const selectMessageStmt = `
	SELECT id, thread_id, sender_id, body, is_read, sent_at FROM messages
	WHERE id = $1
`

const selectMessagesByThreadStmt = `
	SELECT id, thread_id, sender_id, body, is_read, sent_at FROM messages
	WHERE thread_id = $1
	ORDER BY sent_at, id
`

const countMessagesByAuthorStmt = `
	SELECT COUNT(*) FROM messages
	WHERE thread_id = $1 AND sender_id = $2
`

// The mailbox listing is every message received by the user: messages
// authored by the other participant in threads the user belongs to, in
// stored order. The subject is the owning thread's title.
const selectInboxStmt = `
	SELECT m.id, t.title, m.body, m.sent_at
	FROM messages m
	JOIN threads t ON t.id = m.thread_id
	WHERE (t.sender_id = $1 OR t.receiver_id = $1)
	AND m.sender_id != $1
	ORDER BY m.id
`

func NewTableMessages(db *sql.DB, writer *Writer) (*TableMessages, error) {
	t := &TableMessages{
		db:     db,
		writer: writer,
	}
	var err error
	t.createMessage, err = db.Prepare(insertMessageStmt)
	if err != nil {
		return nil, fmt.Errorf("db.Prepare(insertMessageStmt): %w", err)
	}
	t.selectMessage, err = db.Prepare(selectMessageStmt)
	if err != nil {
		return nil, fmt.Errorf("db.Prepare(selectMessageStmt): %w", err)
	}
	t.selectByThread, err = db.Prepare(selectMessagesByThreadStmt)
	if err != nil {
		return nil, fmt.Errorf("db.Prepare(selectMessagesByThreadStmt): %w", err)
	}
	t.countByAuthor, err = db.Prepare(countMessagesByAuthorStmt)
	if err != nil {
		return nil, fmt.Errorf("db.Prepare(countMessagesByAuthorStmt): %w", err)
	}
	t.selectInbox, err = db.Prepare(selectInboxStmt)
	if err != nil {
		return nil, fmt.Errorf("db.Prepare(selectInboxStmt): %w", err)
	}
	return t, nil
}

// MessageCreate inserts a message row. Body is ciphertext already.
func (t *TableMessages) MessageCreate(txn *sql.Tx, threadID, senderID int64, body string) (types.MailMessage, error) {
	msg := types.MailMessage{
		ThreadID: threadID,
		SenderID: senderID,
		Body:     body,
		SentAt:   time.Now(),
	}
	do := func(txn *sql.Tx) error {
		return txn.Stmt(t.createMessage).QueryRow(threadID, senderID, body, msg.SentAt.Unix()).Scan(&msg.ID)
	}
	if err := t.writer.Do(t.db, txn, do); err != nil {
		return types.MailMessage{}, err
	}
	return msg, nil
}

func (t *TableMessages) MessageByID(id int64) (types.MailMessage, error) {
	return scanMessage(t.selectMessage.QueryRow(id))
}

// MessagesForThread returns all messages of a thread, oldest first.
func (t *TableMessages) MessagesForThread(threadID int64) ([]types.MailMessage, error) {
	rows, err := t.selectByThread.Query(threadID)
	if err != nil {
		return nil, fmt.Errorf("t.selectByThread.Query: %w", err)
	}
	defer rows.Close() // nolint:errcheck
	var out []types.MailMessage
	for rows.Next() {
		var m types.MailMessage
		var sent int64
		if err := rows.Scan(&m.ID, &m.ThreadID, &m.SenderID, &m.Body, &m.IsRead, &sent); err != nil {
			return nil, fmt.Errorf("rows.Scan: %w", err)
		}
		m.SentAt = time.Unix(sent, 0)
		out = append(out, m)
	}
	return out, rows.Err()
}

// MessageCountByAuthor counts messages a given user authored within a
// thread. Used for the reply-context trust score.
func (t *TableMessages) MessageCountByAuthor(threadID, authorID int64) (int, error) {
	var count int
	err := t.countByAuthor.QueryRow(threadID, authorID).Scan(&count)
	return count, err
}

// InboxFor lists the user's received messages in stored order.
func (t *TableMessages) InboxFor(userID int64) ([]types.InboxItem, error) {
	rows, err := t.selectInbox.Query(userID)
	if err != nil {
		return nil, fmt.Errorf("t.selectInbox.Query: %w", err)
	}
	defer rows.Close() // nolint:errcheck
	var out []types.InboxItem
	for rows.Next() {
		var item types.InboxItem
		var sent int64
		if err := rows.Scan(&item.ID, &item.Subject, &item.Body, &sent); err != nil {
			return nil, fmt.Errorf("rows.Scan: %w", err)
		}
		item.SentAt = time.Unix(sent, 0)
		out = append(out, item)
	}
	return out, rows.Err()
}

func scanMessage(row *sql.Row) (types.MailMessage, error) {
	var m types.MailMessage
	var sent int64
	if err := row.Scan(&m.ID, &m.ThreadID, &m.SenderID, &m.Body, &m.IsRead, &sent); err != nil {
		return types.MailMessage{}, err
	}
	m.SentAt = time.Unix(sent, 0)
	return m, nil
}
