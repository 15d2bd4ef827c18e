/*
 *  This Source Code Form is subject to the terms of the Mozilla Public
 *  License, v. 2.0. If a copy of the MPL was not distributed with this
 *  file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package popserver

import (
	"bufio"
	"fmt"
	"net"
	"strconv"
	"strings"
)

type authState int

const (
	stateUnauthenticated authState = iota
	stateUserProvided
	stateAuthenticated
)

type session struct {
	server   *POPServer
	conn     net.Conn
	reader   *bufio.Reader
	writer   *bufio.Writer
	state    authState
	identity string
}

func newSession(server *POPServer, conn net.Conn) *session {
	return &session{
		server: server,
		conn:   conn,
		reader: bufio.NewReader(conn),
		writer: bufio.NewWriter(conn),
		state:  stateUnauthenticated,
	}
}

func (s *session) run() {
	defer s.conn.Close()
	if !s.reply("+OK POP3 server ready") {
		return
	}
	for {
		line, err := s.reader.ReadString('\n')
		if err != nil {
			return
		}
		verb, arg := splitCommand(strings.TrimRight(line, "\r\n"))
		switch verb {
		case "USER":
			s.identity = arg
			s.state = stateUserProvided
			if !s.reply("+OK user accepted") {
				return
			}
		case "PASS":
			if !s.authenticate(arg) {
				return
			}
		case "LIST":
			if !s.list() {
				return
			}
		case "RETR":
			if !s.retrieve(arg) {
				return
			}
		case "QUIT":
			s.reply("+OK Goodbye")
			return
		default:
			if !s.reply("-ERR unknown command") {
				return
			}
		}
	}
}

func (s *session) authenticate(secret string) bool {
	// No claimed identity yet, so there is no credential to verify.
	if s.state == stateUnauthenticated {
		return s.reply("-ERR invalid credentials")
	}
	ok, err := s.server.store.AuthenticateUser(s.identity, secret)
	if err != nil {
		s.server.log.Warnf("pop3: auth lookup for %q: %v", s.identity, err)
	}
	if !ok {
		return s.reply("-ERR invalid credentials")
	}
	s.state = stateAuthenticated
	return s.reply("+OK authenticated")
}

func (s *session) list() bool {
	if s.state != stateAuthenticated {
		return s.reply("-ERR unknown command")
	}
	items, err := s.server.store.Inbox(s.identity)
	if err != nil {
		s.server.log.Warnf("pop3: inbox for %q: %v", s.identity, err)
		return s.reply("-ERR unknown command")
	}
	if !s.reply(fmt.Sprintf("+OK %d messages", len(items))) {
		return false
	}
	for i, item := range items {
		if !s.reply(fmt.Sprintf("%d %d", i+1, item.ID)) {
			return false
		}
	}
	return s.reply(".")
}

// retrieve answers a 1-based index into the same mailbox ordering LIST
// reports.
func (s *session) retrieve(arg string) bool {
	if s.state != stateAuthenticated {
		return s.reply("-ERR unknown command")
	}
	index, err := strconv.Atoi(arg)
	if err != nil {
		return s.reply("-ERR message not found")
	}
	items, inboxErr := s.server.store.Inbox(s.identity)
	if inboxErr != nil {
		s.server.log.Warnf("pop3: inbox for %q: %v", s.identity, inboxErr)
		return s.reply("-ERR message not found")
	}
	if index < 1 || index > len(items) {
		return s.reply("-ERR message not found")
	}
	item := items[index-1]
	if !s.reply("+OK "+item.Subject) ||
		!s.reply("Subject: "+item.Subject) ||
		!s.reply(item.Body) {
		return false
	}
	return s.reply(".")
}

func splitCommand(line string) (verb, arg string) {
	verb, arg, _ = strings.Cut(line, " ")
	return strings.ToUpper(verb), strings.TrimSpace(arg)
}

func (s *session) reply(line string) bool {
	if _, err := s.writer.WriteString(line + "\r\n"); err != nil {
		return false
	}
	return s.writer.Flush() == nil
}
