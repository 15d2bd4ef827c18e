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

type TableTrash struct {
	db          *sql.DB
	writer      *Writer
	upsertTrash *sql.Stmt
	deleteTrash *sql.Stmt
	markForever *sql.Stmt
	selectTrash *sql.Stmt
}

// Re-trashing a restored-then-deleted thread resets the forever flag,
// matching upsert semantics on the (user, thread) key.
const upsertTrashStmt = `
	INSERT INTO trash (user_id, thread_id, delete_forever, created_at)
	VALUES ($1, $2, 0, $3)
	ON CONFLICT (user_id, thread_id) DO UPDATE SET delete_forever = 0
`

const deleteTrashStmt = `
	DELETE FROM trash WHERE user_id = $1 AND thread_id = $2
`

const markForeverStmt = `
	UPDATE trash SET delete_forever = 1 WHERE user_id = $1 AND thread_id = $2
`

const selectTrashStmt = `
	SELECT user_id, thread_id, delete_forever, created_at FROM trash
	WHERE user_id = $1 AND thread_id = $2
`

func NewTableTrash(db *sql.DB, writer *Writer) (*TableTrash, error) {
	t := &TableTrash{
		db:     db,
		writer: writer,
	}
	var err error
	t.upsertTrash, err = db.Prepare(upsertTrashStmt)
	if err != nil {
		return nil, fmt.Errorf("db.Prepare(upsertTrashStmt): %w", err)
	}
	t.deleteTrash, err = db.Prepare(deleteTrashStmt)
	if err != nil {
		return nil, fmt.Errorf("db.Prepare(deleteTrashStmt): %w", err)
	}
	t.markForever, err = db.Prepare(markForeverStmt)
	if err != nil {
		return nil, fmt.Errorf("db.Prepare(markForeverStmt): %w", err)
	}
	t.selectTrash, err = db.Prepare(selectTrashStmt)
	if err != nil {
		return nil, fmt.Errorf("db.Prepare(selectTrashStmt): %w", err)
	}
	return t, nil
}

// TrashUpsert moves a thread into the viewer's trash (soft).
func (t *TableTrash) TrashUpsert(txn *sql.Tx, userID, threadID int64) error {
	return t.writer.Do(t.db, txn, func(txn *sql.Tx) error {
		_, err := txn.Stmt(t.upsertTrash).Exec(userID, threadID, time.Now().Unix())
		return err
	})
}

// TrashDelete restores a thread from the viewer's trash.
func (t *TableTrash) TrashDelete(txn *sql.Tx, userID, threadID int64) error {
	return t.writer.Do(t.db, txn, func(txn *sql.Tx) error {
		_, err := txn.Stmt(t.deleteTrash).Exec(userID, threadID)
		return err
	})
}

// TrashMarkForever sets the permanent tombstone. Terminal for this
// viewer only; the other participant still sees the thread.
func (t *TableTrash) TrashMarkForever(txn *sql.Tx, userID, threadID int64) error {
	return t.writer.Do(t.db, txn, func(txn *sql.Tx) error {
		_, err := txn.Stmt(t.markForever).Exec(userID, threadID)
		return err
	})
}

// TrashGet returns the trash row for (user, thread); sql.ErrNoRows
// when the thread is active for that viewer.
func (t *TableTrash) TrashGet(userID, threadID int64) (types.TrashEntry, error) {
	var e types.TrashEntry
	var created int64
	if err := t.selectTrash.QueryRow(userID, threadID).Scan(&e.UserID, &e.ThreadID, &e.DeleteForever, &created); err != nil {
		return types.TrashEntry{}, err
	}
	e.CreatedAt = time.Unix(created, 0)
	return e, nil
}
