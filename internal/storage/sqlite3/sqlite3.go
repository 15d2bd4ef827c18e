/*
 *  This Source Code Form is subject to the terms of the Mozilla Public
 *  License, v. 2.0. If a copy of the MPL was not distributed with this
 *  file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

// Package sqlite3 is the durable storage layer. Each table gets its
// own type holding prepared statements; all writes are funnelled
// through a single Writer so that concurrent sessions never interleave
// partial transactions on the one connection SQLite hands us.
package sqlite3

import (
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

type SQLite3Storage struct {
	db       *sql.DB
	writer   *Writer
	Users    *TableUsers
	Threads  *TableThreads
	Messages *TableMessages
	Statuses *TableStatuses
	Trash    *TableTrash
	Files    *TableFiles
	External *TableExternal
}

func NewSQLite3Storage(path string) (*SQLite3Storage, error) {
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000", path))
	if err != nil {
		return nil, fmt.Errorf("sql.Open: %w", err)
	}
	// A single connection keeps the serialized writer honest.
	db.SetMaxOpenConns(1)

	s := &SQLite3Storage{
		db:     db,
		writer: &Writer{},
	}
	if err := RunMigrations(db); err != nil {
		return nil, fmt.Errorf("RunMigrations: %w", err)
	}
	if s.Users, err = NewTableUsers(db, s.writer); err != nil {
		return nil, fmt.Errorf("NewTableUsers: %w", err)
	}
	if s.Threads, err = NewTableThreads(db, s.writer); err != nil {
		return nil, fmt.Errorf("NewTableThreads: %w", err)
	}
	if s.Messages, err = NewTableMessages(db, s.writer); err != nil {
		return nil, fmt.Errorf("NewTableMessages: %w", err)
	}
	if s.Statuses, err = NewTableStatuses(db, s.writer); err != nil {
		return nil, fmt.Errorf("NewTableStatuses: %w", err)
	}
	if s.Trash, err = NewTableTrash(db, s.writer); err != nil {
		return nil, fmt.Errorf("NewTableTrash: %w", err)
	}
	if s.Files, err = NewTableFiles(db, s.writer); err != nil {
		return nil, fmt.Errorf("NewTableFiles: %w", err)
	}
	if s.External, err = NewTableExternal(db, s.writer); err != nil {
		return nil, fmt.Errorf("NewTableExternal: %w", err)
	}
	return s, nil
}

// Transact runs fn inside a single transaction. Everything fn writes
// commits or rolls back as one unit.
func (s *SQLite3Storage) Transact(fn func(txn *sql.Tx) error) error {
	return s.writer.Do(s.db, nil, fn)
}

func (s *SQLite3Storage) Close() error {
	return s.db.Close()
}

// Writer serializes write transactions. Do either joins the supplied
// transaction or opens its own, committing on success and rolling back
// on error.
type Writer struct {
	mu sync.Mutex
}

func (w *Writer) Do(db *sql.DB, txn *sql.Tx, fn func(txn *sql.Tx) error) error {
	if txn != nil {
		return fn(txn)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	txn, err := db.Begin()
	if err != nil {
		return fmt.Errorf("db.Begin: %w", err)
	}
	if err := fn(txn); err != nil {
		_ = txn.Rollback()
		return err
	}
	if err := txn.Commit(); err != nil {
		return fmt.Errorf("txn.Commit: %w", err)
	}
	return nil
}
