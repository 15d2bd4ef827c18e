/*
 *  This Source Code Form is subject to the terms of the Mozilla Public
 *  License, v. 2.0. If a copy of the MPL was not distributed with this
 *  file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package sqlite3

import (
	"database/sql"
	"fmt"

	"github.com/tidemail/tidemail/internal/storage/types"
)

type TableStatuses struct {
	db           *sql.DB
	writer       *Writer
	upsertStatus *sql.Stmt
	selectStatus *sql.Stmt
}

// At most one overlay row per (thread, user); a second write overwrites
// the class.
const upsertStatusStmt = `
	INSERT INTO thread_status (thread_id, user_id, class)
	VALUES ($1, $2, $3)
	ON CONFLICT (thread_id, user_id) DO UPDATE SET class = excluded.class
`

const selectStatusStmt = `
	SELECT thread_id, user_id, class FROM thread_status
	WHERE thread_id = $1 AND user_id = $2
`

func NewTableStatuses(db *sql.DB, writer *Writer) (*TableStatuses, error) {
	t := &TableStatuses{
		db:     db,
		writer: writer,
	}
	var err error
	t.upsertStatus, err = db.Prepare(upsertStatusStmt)
	if err != nil {
		return nil, fmt.Errorf("db.Prepare(upsertStatusStmt): %w", err)
	}
	t.selectStatus, err = db.Prepare(selectStatusStmt)
	if err != nil {
		return nil, fmt.Errorf("db.Prepare(selectStatusStmt): %w", err)
	}
	return t, nil
}

func (t *TableStatuses) StatusUpsert(txn *sql.Tx, threadID, userID int64, class types.ThreadClass) error {
	return t.writer.Do(t.db, txn, func(txn *sql.Tx) error {
		_, err := txn.Stmt(t.upsertStatus).Exec(threadID, userID, string(class))
		return err
	})
}

// StatusGet returns the overlay for (thread, user); sql.ErrNoRows when
// the viewer has none.
func (t *TableStatuses) StatusGet(threadID, userID int64) (types.MailThreadStatus, error) {
	var s types.MailThreadStatus
	var class string
	if err := t.selectStatus.QueryRow(threadID, userID).Scan(&s.ThreadID, &s.UserID, &class); err != nil {
		return types.MailThreadStatus{}, err
	}
	s.Class = types.ThreadClass(class)
	return s, nil
}
