/*
 *  This Source Code Form is subject to the terms of the Mozilla Public
 *  License, v. 2.0. If a copy of the MPL was not distributed with this
 *  file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

// Package smtpserver is the transport ingestion server: a minimal
// line-oriented subset of SMTP, one goroutine per connection, feeding
// accepted messages into the mail store. It is deliberately not an
// RFC-conformant server; the wire behaviour (permissive defaults, no
// dot-stuffing) is part of the contract.
package smtpserver

import (
	"fmt"
	"net"

	gologme "github.com/gologme/log"
	"go.uber.org/atomic"

	"github.com/tidemail/tidemail/internal/storage/types"
)

// MailStore is the slice of the threading engine the ingestion server
// needs.
type MailStore interface {
	SendNew(sender, recipient, title, body string, atts []types.Attachment) (types.MailThread, types.MailMessage, error)
	SendInThread(sender, threadRef, body string, atts []types.Attachment) (types.MailMessage, error)
	FindThreadByTitle(title string) (types.MailThread, bool, error)
}

type SMTPServer struct {
	store    MailStore
	log      *gologme.Logger
	listener net.Listener
	running  atomic.Bool
	accepted atomic.Uint64
	rejected atomic.Uint64
	done     chan struct{}
}

func NewSMTPServer(store MailStore, log *gologme.Logger) *SMTPServer {
	return &SMTPServer{
		store: store,
		log:   log,
		done:  make(chan struct{}),
	}
}

// ListenAndServe accepts connections until Close. Each connection gets
// its own session goroutine; commands within a session are handled
// strictly in order.
func (s *SMTPServer) ListenAndServe(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("net.Listen: %w", err)
	}
	return s.Serve(listener)
}

func (s *SMTPServer) Serve(listener net.Listener) error {
	s.listener = listener
	s.running.Store(true)
	defer close(s.done)
	s.log.Printf("SMTP server listening on %s", listener.Addr())
	for {
		conn, err := listener.Accept()
		if err != nil {
			if !s.running.Load() {
				return nil
			}
			return fmt.Errorf("listener.Accept: %w", err)
		}
		sess := newSession(s, conn)
		go sess.run()
	}
}

// Addr returns the bound address, nil before Serve.
func (s *SMTPServer) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stored returns how many messages this server accepted and rejected.
func (s *SMTPServer) Stored() (accepted, rejected uint64) {
	return s.accepted.Load(), s.rejected.Load()
}

func (s *SMTPServer) Close() error {
	s.running.Store(false)
	if s.listener != nil {
		if err := s.listener.Close(); err != nil {
			return err
		}
		<-s.done
	}
	return nil
}
