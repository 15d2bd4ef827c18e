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

type TableUsers struct {
	db           *sql.DB
	writer       *Writer
	createUser   *sql.Stmt
	selectByMail *sql.Stmt
	selectByID   *sql.Stmt
}

const insertUserStmt = `
	INSERT INTO users (email, first_name, last_name, password, created_at)
	VALUES ($1, $2, $3, $4, $5)
	RETURNING id;
`

// Email lookups compare ciphertext against ciphertext; the caller
// encodes before querying.
const selectUserByEmailStmt = `
	SELECT id, email, first_name, last_name, IFNULL(password, ''), created_at FROM users
	WHERE email = $1
`

const selectUserByIDStmt = `
	SELECT id, email, first_name, last_name, IFNULL(password, ''), created_at FROM users
	WHERE id = $1
`

func NewTableUsers(db *sql.DB, writer *Writer) (*TableUsers, error) {
	t := &TableUsers{
		db:     db,
		writer: writer,
	}
	var err error
	t.createUser, err = db.Prepare(insertUserStmt)
	if err != nil {
		return nil, fmt.Errorf("db.Prepare(insertUserStmt): %w", err)
	}
	t.selectByMail, err = db.Prepare(selectUserByEmailStmt)
	if err != nil {
		return nil, fmt.Errorf("db.Prepare(selectUserByEmailStmt): %w", err)
	}
	t.selectByID, err = db.Prepare(selectUserByIDStmt)
	if err != nil {
		return nil, fmt.Errorf("db.Prepare(selectUserByIDStmt): %w", err)
	}
	return t, nil
}

// UserCreate inserts a user row. Email and name fields are expected to
// be ciphertext already; passwordHash may be empty for shadow users.
func (t *TableUsers) UserCreate(txn *sql.Tx, email, firstName, lastName, passwordHash string) (int64, error) {
	var id int64
	do := func(txn *sql.Tx) error {
		var pw any
		if passwordHash != "" {
			pw = passwordHash
		}
		return txn.Stmt(t.createUser).QueryRow(email, firstName, lastName, pw, time.Now().Unix()).Scan(&id)
	}
	return id, t.writer.Do(t.db, txn, do)
}

// UserByEmail looks a user up by ciphertext email. Returns
// sql.ErrNoRows when absent.
func (t *TableUsers) UserByEmail(email string) (types.User, error) {
	return t.scanUser(t.selectByMail.QueryRow(email))
}

func (t *TableUsers) UserByID(id int64) (types.User, error) {
	return t.scanUser(t.selectByID.QueryRow(id))
}

func (t *TableUsers) scanUser(row *sql.Row) (types.User, error) {
	var u types.User
	var created int64
	var first, last sql.NullString
	if err := row.Scan(&u.ID, &u.Email, &first, &last, &u.PasswordHash, &created); err != nil {
		return types.User{}, err
	}
	u.FirstName = first.String
	u.LastName = last.String
	u.CreatedAt = time.Unix(created, 0)
	return u, nil
}
