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

type TableThreads struct {
	db                *sql.DB
	writer            *Writer
	createThread      *sql.Stmt
	selectThread      *sql.Stmt
	selectByTitle     *sql.Stmt
	touchThread       *sql.Stmt
	countPair         *sql.Stmt
	countPairReplied  *sql.Stmt
	countPairSpam     *sql.Stmt
	selectPairThread  *sql.Stmt
	selectSummaries   *sql.Stmt
	selectTrashedRows *sql.Stmt
}

const insertThreadStmt = `
	INSERT INTO threads (title, class, sender_id, receiver_id, is_external, created_at, updated_at)
	VALUES ($1, 'normal', $2, $3, $4, $5, $5)
	RETURNING id;
`

const selectThreadStmt = `
	SELECT id, title, class, sender_id, IFNULL(receiver_id, 0), is_external, created_at, updated_at
	FROM threads
	WHERE id = $1
`

// Reply matching is exact-title only, no thread-id correlation. The
// title index takes the place of the scan; earliest thread wins when
// several share a title.
const selectThreadByTitleStmt = `
	SELECT id, title, class, sender_id, IFNULL(receiver_id, 0), is_external, created_at, updated_at
	FROM threads
	WHERE title = $1
	ORDER BY id
	LIMIT 1
`

const touchThreadStmt = `
	UPDATE threads SET updated_at = $1 WHERE id = $2
`

const countPairStmt = `
	SELECT COUNT(*) FROM threads
	WHERE sender_id = $1 AND receiver_id = $2
`

const countPairRepliedStmt = `
	SELECT COUNT(*) FROM threads t
	WHERE t.sender_id = $1 AND t.receiver_id = $2
	AND EXISTS (
		SELECT 1 FROM messages m WHERE m.thread_id = t.id AND m.sender_id = $2
	)
`

const countPairSpamStmt = `
	SELECT COUNT(*) FROM threads t
	JOIN thread_status s ON s.thread_id = t.id
	WHERE t.sender_id = $1 AND t.receiver_id = $2
	AND s.user_id = $2 AND s.class = 'spam'
`

const selectPairThreadStmt = `
	SELECT id, title, class, sender_id, IFNULL(receiver_id, 0), is_external, created_at, updated_at
	FROM threads
	WHERE sender_id = $1 AND receiver_id = $2
	ORDER BY id
	LIMIT 1
`

// One row per thread the viewer participates in, joined with the
// viewer's overlay and the latest message. Trashed threads live in the
// trash listing instead.
const selectSummariesStmt = `
	SELECT t.id, t.title, IFNULL(s.class, t.class), t.sender_id, IFNULL(t.receiver_id, 0), t.updated_at,
		IFNULL(m.id, 0), IFNULL(m.sender_id, 0), IFNULL(m.body, ''), IFNULL(m.sent_at, t.updated_at)
	FROM threads t
	LEFT JOIN thread_status s ON s.thread_id = t.id AND s.user_id = $1
	LEFT JOIN messages m ON m.id = (
		SELECT id FROM messages WHERE thread_id = t.id ORDER BY sent_at DESC, id DESC LIMIT 1
	)
	WHERE (t.sender_id = $1 OR t.receiver_id = $1)
	AND NOT EXISTS (
		SELECT 1 FROM trash d WHERE d.thread_id = t.id AND d.user_id = $1
	)
	ORDER BY t.updated_at DESC, t.id DESC
`

const selectTrashedRowsStmt = `
	SELECT t.id, t.title, IFNULL(s.class, t.class), t.sender_id, IFNULL(t.receiver_id, 0), t.updated_at,
		IFNULL(m.id, 0), IFNULL(m.sender_id, 0), IFNULL(m.body, ''), IFNULL(m.sent_at, t.updated_at)
	FROM trash d
	JOIN threads t ON t.id = d.thread_id
	LEFT JOIN thread_status s ON s.thread_id = t.id AND s.user_id = $1
	LEFT JOIN messages m ON m.id = (
		SELECT id FROM messages WHERE thread_id = t.id ORDER BY sent_at DESC, id DESC LIMIT 1
	)
	WHERE d.user_id = $1 AND d.delete_forever = 0
	ORDER BY d.created_at DESC, t.id DESC
`

func NewTableThreads(db *sql.DB, writer *Writer) (*TableThreads, error) {
	t := &TableThreads{
		db:     db,
		writer: writer,
	}
	var err error
	t.createThread, err = db.Prepare(insertThreadStmt)
	if err != nil {
		return nil, fmt.Errorf("db.Prepare(insertThreadStmt): %w", err)
	}
	t.selectThread, err = db.Prepare(selectThreadStmt)
	if err != nil {
		return nil, fmt.Errorf("db.Prepare(selectThreadStmt): %w", err)
	}
	t.selectByTitle, err = db.Prepare(selectThreadByTitleStmt)
	if err != nil {
		return nil, fmt.Errorf("db.Prepare(selectThreadByTitleStmt): %w", err)
	}
	t.touchThread, err = db.Prepare(touchThreadStmt)
	if err != nil {
		return nil, fmt.Errorf("db.Prepare(touchThreadStmt): %w", err)
	}
	t.countPair, err = db.Prepare(countPairStmt)
	if err != nil {
		return nil, fmt.Errorf("db.Prepare(countPairStmt): %w", err)
	}
	t.countPairReplied, err = db.Prepare(countPairRepliedStmt)
	if err != nil {
		return nil, fmt.Errorf("db.Prepare(countPairRepliedStmt): %w", err)
	}
	t.countPairSpam, err = db.Prepare(countPairSpamStmt)
	if err != nil {
		return nil, fmt.Errorf("db.Prepare(countPairSpamStmt): %w", err)
	}
	t.selectPairThread, err = db.Prepare(selectPairThreadStmt)
	if err != nil {
		return nil, fmt.Errorf("db.Prepare(selectPairThreadStmt): %w", err)
	}
	t.selectSummaries, err = db.Prepare(selectSummariesStmt)
	if err != nil {
		return nil, fmt.Errorf("db.Prepare(selectSummariesStmt): %w", err)
	}
	t.selectTrashedRows, err = db.Prepare(selectTrashedRowsStmt)
	if err != nil {
		return nil, fmt.Errorf("db.Prepare(selectTrashedRowsStmt): %w", err)
	}
	return t, nil
}

func (t *TableThreads) ThreadCreate(txn *sql.Tx, title string, senderID, receiverID int64, isExternal bool) (int64, error) {
	var id int64
	do := func(txn *sql.Tx) error {
		var receiver any
		if receiverID != 0 {
			receiver = receiverID
		}
		return txn.Stmt(t.createThread).QueryRow(title, senderID, receiver, isExternal, time.Now().Unix()).Scan(&id)
	}
	return id, t.writer.Do(t.db, txn, do)
}

func (t *TableThreads) ThreadByID(id int64) (types.MailThread, error) {
	return scanThread(t.selectThread.QueryRow(id))
}

// ThreadByTitle returns the earliest thread with an exactly matching
// title, or false when no thread matches.
func (t *TableThreads) ThreadByTitle(title string) (types.MailThread, bool, error) {
	th, err := scanThread(t.selectByTitle.QueryRow(title))
	if err == sql.ErrNoRows {
		return types.MailThread{}, false, nil
	}
	if err != nil {
		return types.MailThread{}, false, err
	}
	return th, true, nil
}

func (t *TableThreads) ThreadTouch(txn *sql.Tx, id int64) error {
	return t.writer.Do(t.db, txn, func(txn *sql.Tx) error {
		_, err := txn.Stmt(t.touchThread).Exec(time.Now().Unix(), id)
		return err
	})
}

// PairThreadStats reports, for the sender→receiver direction, the total
// thread count, how many of those threads the receiver has replied in,
// and how many the receiver has marked spam.
func (t *TableThreads) PairThreadStats(senderID, receiverID int64) (total, replied, spam int, err error) {
	if err = t.countPair.QueryRow(senderID, receiverID).Scan(&total); err != nil {
		return 0, 0, 0, fmt.Errorf("countPair: %w", err)
	}
	if err = t.countPairReplied.QueryRow(senderID, receiverID).Scan(&replied); err != nil {
		return 0, 0, 0, fmt.Errorf("countPairReplied: %w", err)
	}
	if err = t.countPairSpam.QueryRow(senderID, receiverID).Scan(&spam); err != nil {
		return 0, 0, 0, fmt.Errorf("countPairSpam: %w", err)
	}
	return total, replied, spam, nil
}

// PairThread returns the earliest thread from sender to receiver.
func (t *TableThreads) PairThread(senderID, receiverID int64) (types.MailThread, bool, error) {
	th, err := scanThread(t.selectPairThread.QueryRow(senderID, receiverID))
	if err == sql.ErrNoRows {
		return types.MailThread{}, false, nil
	}
	if err != nil {
		return types.MailThread{}, false, err
	}
	return th, true, nil
}

// SummaryRow is a raw conversation row before the service layer
// decodes ciphertext fields and resolves the partner.
type SummaryRow struct {
	ThreadID     int64
	Title        string
	Class        string
	SenderID     int64
	ReceiverID   int64
	UpdatedAt    time.Time
	LastMsgID    int64
	LastSenderID int64
	LastBody     string
	LastSentAt   time.Time
}

// SummariesFor lists the viewer's non-trashed threads, newest first.
func (t *TableThreads) SummariesFor(userID int64) ([]SummaryRow, error) {
	return t.querySummaries(t.selectSummaries, userID)
}

// TrashedFor lists the viewer's soft-trashed threads. Rows with the
// forever tombstone never come back.
func (t *TableThreads) TrashedFor(userID int64) ([]SummaryRow, error) {
	return t.querySummaries(t.selectTrashedRows, userID)
}

func (t *TableThreads) querySummaries(stmt *sql.Stmt, userID int64) ([]SummaryRow, error) {
	rows, err := stmt.Query(userID)
	if err != nil {
		return nil, fmt.Errorf("stmt.Query: %w", err)
	}
	defer rows.Close() // nolint:errcheck
	var out []SummaryRow
	for rows.Next() {
		var r SummaryRow
		var updated, sent int64
		if err := rows.Scan(
			&r.ThreadID, &r.Title, &r.Class, &r.SenderID, &r.ReceiverID, &updated,
			&r.LastMsgID, &r.LastSenderID, &r.LastBody, &sent,
		); err != nil {
			return nil, fmt.Errorf("rows.Scan: %w", err)
		}
		r.UpdatedAt = time.Unix(updated, 0)
		r.LastSentAt = time.Unix(sent, 0)
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanThread(row *sql.Row) (types.MailThread, error) {
	var th types.MailThread
	var class string
	var created, updated int64
	if err := row.Scan(&th.ID, &th.Title, &class, &th.SenderID, &th.ReceiverID, &th.IsExternal, &created, &updated); err != nil {
		return types.MailThread{}, err
	}
	th.Class = types.ThreadClass(class)
	th.CreatedAt = time.Unix(created, 0)
	th.UpdatedAt = time.Unix(updated, 0)
	return th, nil
}
