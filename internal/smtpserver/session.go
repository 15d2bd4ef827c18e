/*
 *  This Source Code Form is subject to the terms of the Mozilla Public
 *  License, v. 2.0. If a copy of the MPL was not distributed with this
 *  file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package smtpserver

import (
	"bufio"
	"net"
	"strconv"
	"strings"

	"github.com/tidemail/tidemail/internal/utils"
)

type sessionState int

const (
	stateGreeting sessionState = iota
	stateHeloReceived
	stateSenderSet
	stateRecipientSet
	stateCollectingBody
	stateDone
)

type session struct {
	server *SMTPServer
	conn   net.Conn
	reader *bufio.Reader
	writer *bufio.Writer
	state  sessionState

	sender    string
	recipient string
	body      []string
}

func newSession(server *SMTPServer, conn net.Conn) *session {
	return &session{
		server: server,
		conn:   conn,
		reader: bufio.NewReader(conn),
		writer: bufio.NewWriter(conn),
		state:  stateGreeting,
	}
}

func (s *session) run() {
	defer s.conn.Close()
	if !s.reply("220 SMTP server ready") {
		return
	}
	s.state = stateHeloReceived
	for s.state != stateDone {
		line, err := s.reader.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimRight(line, "\r\n")
		if s.state == stateCollectingBody {
			if !s.collect(line) {
				return
			}
			continue
		}
		if !s.command(line) {
			return
		}
	}
}

// command dispatches on the verb. Anything unrecognised gets a
// permissive 250 so that chatty clients keep going.
func (s *session) command(line string) bool {
	verb := strings.ToUpper(line)
	switch {
	case strings.HasPrefix(verb, "HELO"), strings.HasPrefix(verb, "EHLO"):
		return s.reply("250 Hello")
	case strings.HasPrefix(verb, "MAIL FROM:"):
		s.sender = utils.StripAngles(line[len("MAIL FROM:"):])
		s.state = stateSenderSet
		return s.reply("250 OK")
	case strings.HasPrefix(verb, "RCPT TO:"):
		s.recipient = utils.StripAngles(line[len("RCPT TO:"):])
		s.state = stateRecipientSet
		return s.reply("250 OK")
	case verb == "DATA":
		s.body = s.body[:0]
		s.state = stateCollectingBody
		return s.reply("354 End data with <CR><LF>.<CR><LF>")
	case verb == "QUIT":
		ok := s.reply("221 Bye")
		s.state = stateDone
		return ok
	default:
		return s.reply("250 OK")
	}
}

// collect gathers DATA lines until the lone-dot terminator. Lines are
// stored verbatim, there is no dot-unstuffing.
func (s *session) collect(line string) bool {
	if line != "." {
		s.body = append(s.body, line)
		return true
	}
	subject, body := splitPayload(s.body)
	if err := s.deliver(subject, body); err != nil {
		s.server.rejected.Inc()
		s.server.log.Warnf("smtp: store failed from %q to %q: %v", s.sender, s.recipient, err)
		s.state = stateHeloReceived
		return s.reply("550 Failed to store email")
	}
	s.server.accepted.Inc()
	s.state = stateHeloReceived
	return s.reply("250 Message accepted")
}

// deliver routes by subject: a "Re: " subject matching an existing
// thread title appends to that thread, everything else opens a new one.
func (s *session) deliver(subject, body string) error {
	if title, ok := stripReply(subject); ok {
		thread, found, err := s.server.store.FindThreadByTitle(title)
		if err != nil {
			return err
		}
		if found {
			_, err = s.server.store.SendInThread(s.sender, strconv.FormatInt(thread.ID, 10), body, nil)
			return err
		}
		subject = title
	}
	_, _, err := s.server.store.SendNew(s.sender, s.recipient, subject, body, nil)
	return err
}

// stripReply removes a leading "Re:" (any case) from a subject,
// reporting whether one was present.
func stripReply(subject string) (string, bool) {
	if len(subject) < 3 || !strings.EqualFold(subject[:3], "Re:") {
		return subject, false
	}
	return strings.TrimLeft(subject[3:], " "), true
}

// splitPayload treats the first line as the subject, with or without a
// Subject: header token, and the trimmed remainder as the body.
func splitPayload(lines []string) (subject, body string) {
	if len(lines) == 0 {
		return "", ""
	}
	subject = strings.TrimSpace(strings.TrimPrefix(lines[0], "Subject:"))
	body = strings.TrimSpace(strings.Join(lines[1:], "\n"))
	return subject, body
}

func (s *session) reply(line string) bool {
	if _, err := s.writer.WriteString(line + "\r\n"); err != nil {
		return false
	}
	return s.writer.Flush() == nil
}
