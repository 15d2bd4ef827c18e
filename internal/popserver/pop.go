/*
 *  This Source Code Form is subject to the terms of the Mozilla Public
 *  License, v. 2.0. If a copy of the MPL was not distributed with this
 *  file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

// Package popserver is the retrieval server: a minimal POP3-flavoured
// protocol over TCP. Unlike the ingestion side it is strict, anything
// unrecognised or out of sequence is answered with an error line.
package popserver

import (
	"fmt"
	"net"

	gologme "github.com/gologme/log"
	"go.uber.org/atomic"

	"github.com/tidemail/tidemail/internal/storage/types"
)

// MailStore is the slice of the threading engine the retrieval server
// needs.
type MailStore interface {
	AuthenticateUser(identity, secret string) (bool, error)
	Inbox(identity string) ([]types.InboxItem, error)
}

type POPServer struct {
	store    MailStore
	log      *gologme.Logger
	listener net.Listener
	running  atomic.Bool
	sessions atomic.Uint64
	done     chan struct{}
}

func NewPOPServer(store MailStore, log *gologme.Logger) *POPServer {
	return &POPServer{
		store: store,
		log:   log,
		done:  make(chan struct{}),
	}
}

func (s *POPServer) ListenAndServe(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("net.Listen: %w", err)
	}
	return s.Serve(listener)
}

func (s *POPServer) Serve(listener net.Listener) error {
	s.listener = listener
	s.running.Store(true)
	defer close(s.done)
	s.log.Printf("POP3 server listening on %s", listener.Addr())
	for {
		conn, err := listener.Accept()
		if err != nil {
			if !s.running.Load() {
				return nil
			}
			return fmt.Errorf("listener.Accept: %w", err)
		}
		s.sessions.Inc()
		sess := newSession(s, conn)
		go sess.run()
	}
}

// Addr returns the bound address, nil before Serve.
func (s *POPServer) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *POPServer) Close() error {
	s.running.Store(false)
	if s.listener != nil {
		if err := s.listener.Close(); err != nil {
			return err
		}
		<-s.done
	}
	return nil
}
