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

type TableFiles struct {
	db            *sql.DB
	writer        *Writer
	createFile    *sql.Stmt
	selectByMsg   *sql.Stmt
	countByMsg    *sql.Stmt
}

const insertFileStmt = `
	INSERT INTO files (message_id, file_name, file_path, file_size, mime_type)
	VALUES ($1, $2, $3, $4, $5)
`

const selectFilesByMessageStmt = `
	SELECT id, message_id, IFNULL(file_name, ''), IFNULL(file_path, ''), IFNULL(file_size, 0), IFNULL(mime_type, '')
	FROM files
	WHERE message_id = $1
	ORDER BY id
`

const countFilesByMessageStmt = `
	SELECT COUNT(*) FROM files WHERE message_id = $1
`

func NewTableFiles(db *sql.DB, writer *Writer) (*TableFiles, error) {
	t := &TableFiles{
		db:     db,
		writer: writer,
	}
	var err error
	t.createFile, err = db.Prepare(insertFileStmt)
	if err != nil {
		return nil, fmt.Errorf("db.Prepare(insertFileStmt): %w", err)
	}
	t.selectByMsg, err = db.Prepare(selectFilesByMessageStmt)
	if err != nil {
		return nil, fmt.Errorf("db.Prepare(selectFilesByMessageStmt): %w", err)
	}
	t.countByMsg, err = db.Prepare(countFilesByMessageStmt)
	if err != nil {
		return nil, fmt.Errorf("db.Prepare(countFilesByMessageStmt): %w", err)
	}
	return t, nil
}

// FilesCreate records attachment metadata for a message. Runs inside
// the caller's transaction so the message and its attachments commit
// as one unit. Rows with neither a name nor a path are skipped.
func (t *TableFiles) FilesCreate(txn *sql.Tx, messageID int64, files []types.Attachment) error {
	return t.writer.Do(t.db, txn, func(txn *sql.Tx) error {
		stmt := txn.Stmt(t.createFile)
		for _, f := range files {
			if f.FileName == "" && f.FilePath == "" {
				continue
			}
			if _, err := stmt.Exec(messageID, f.FileName, f.FilePath, f.FileSize, f.MimeType); err != nil {
				return fmt.Errorf("stmt.Exec: %w", err)
			}
		}
		return nil
	})
}

func (t *TableFiles) FilesForMessage(messageID int64) ([]types.Attachment, error) {
	rows, err := t.selectByMsg.Query(messageID)
	if err != nil {
		return nil, fmt.Errorf("t.selectByMsg.Query: %w", err)
	}
	defer rows.Close() // nolint:errcheck
	var out []types.Attachment
	for rows.Next() {
		var a types.Attachment
		if err := rows.Scan(&a.ID, &a.MessageID, &a.FileName, &a.FilePath, &a.FileSize, &a.MimeType); err != nil {
			return nil, fmt.Errorf("rows.Scan: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (t *TableFiles) FileCount(messageID int64) (int, error) {
	var count int
	err := t.countByMsg.QueryRow(messageID).Scan(&count)
	return count, err
}
