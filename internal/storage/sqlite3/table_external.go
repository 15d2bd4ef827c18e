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

type TableExternal struct {
	db            *sql.DB
	writer        *Writer
	createLog     *sql.Stmt
	selectByToken *sql.Stmt
}

const insertExternalLogStmt = `
	INSERT INTO external_log (message_id, thread_id, sender_email, receiver_email, tracking_token, status, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	RETURNING id;
`

const selectExternalByTokenStmt = `
	SELECT id, message_id, thread_id, sender_email, receiver_email, IFNULL(tracking_token, ''), status, created_at
	FROM external_log
	WHERE tracking_token = $1
`

func NewTableExternal(db *sql.DB, writer *Writer) (*TableExternal, error) {
	t := &TableExternal{
		db:     db,
		writer: writer,
	}
	var err error
	t.createLog, err = db.Prepare(insertExternalLogStmt)
	if err != nil {
		return nil, fmt.Errorf("db.Prepare(insertExternalLogStmt): %w", err)
	}
	t.selectByToken, err = db.Prepare(selectExternalByTokenStmt)
	if err != nil {
		return nil, fmt.Errorf("db.Prepare(selectExternalByTokenStmt): %w", err)
	}
	return t, nil
}

// LogCreate records an outbound federation attempt. The token ties a
// later correlated reply back to the thread.
func (t *TableExternal) LogCreate(txn *sql.Tx, entry types.ExternalEmailLog) (int64, error) {
	var id int64
	do := func(txn *sql.Tx) error {
		var token any
		if entry.TrackingToken != "" {
			token = entry.TrackingToken
		}
		return txn.Stmt(t.createLog).QueryRow(
			entry.MessageID, entry.ThreadID, entry.SenderEmail, entry.ReceiverEmail,
			token, entry.Status, time.Now().Unix(),
		).Scan(&id)
	}
	return id, t.writer.Do(t.db, txn, do)
}

// LogByToken finds the federation record carrying a correlation token;
// sql.ErrNoRows when the token is unknown.
func (t *TableExternal) LogByToken(token string) (types.ExternalEmailLog, error) {
	var e types.ExternalEmailLog
	var created int64
	err := t.selectByToken.QueryRow(token).Scan(
		&e.ID, &e.MessageID, &e.ThreadID, &e.SenderEmail, &e.ReceiverEmail,
		&e.TrackingToken, &e.Status, &created,
	)
	if err != nil {
		return types.ExternalEmailLog{}, err
	}
	e.CreatedAt = time.Unix(created, 0)
	return e, nil
}
