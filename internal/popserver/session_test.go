/*
 *  This Source Code Form is subject to the terms of the Mozilla Public
 *  License, v. 2.0. If a copy of the MPL was not distributed with this
 *  file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package popserver

import (
	"bufio"
	"io"
	"net"
	"strings"
	"testing"

	"github.com/tidemail/tidemail/internal/logging"
	"github.com/tidemail/tidemail/internal/storage/types"
)

type fakeStore struct {
	secrets map[string]string
	inbox   map[string][]types.InboxItem
}

func (f *fakeStore) AuthenticateUser(identity, secret string) (bool, error) {
	want, ok := f.secrets[identity]
	return ok && want == secret, nil
}

func (f *fakeStore) Inbox(identity string) ([]types.InboxItem, error) {
	return f.inbox[identity], nil
}

type script struct {
	send string
	want []string
}

func runSession(t *testing.T, store MailStore, lines []script) {
	t.Helper()
	server := NewPOPServer(store, logging.New(io.Discard, "pop3", nil, "info"))
	client, remote := net.Pipe()
	defer client.Close()
	sess := newSession(server, remote)
	go sess.run()

	reader := bufio.NewReader(client)
	greeting, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("reading greeting: %v", err)
	}
	if got := strings.TrimRight(greeting, "\r\n"); got != "+OK POP3 server ready" {
		t.Fatalf("greeting = %q", got)
	}
	for _, step := range lines {
		if _, err := client.Write([]byte(step.send + "\r\n")); err != nil {
			t.Fatalf("writing %q: %v", step.send, err)
		}
		for _, want := range step.want {
			line, err := reader.ReadString('\n')
			if err != nil {
				t.Fatalf("reading reply to %q: %v", step.send, err)
			}
			if got := strings.TrimRight(line, "\r\n"); got != want {
				t.Fatalf("reply to %q = %q, want %q", step.send, got, want)
			}
		}
	}
}

func testStore() *fakeStore {
	return &fakeStore{
		secrets: map[string]string{"a@x.com": "hunter2"},
		inbox: map[string][]types.InboxItem{
			"a@x.com": {
				{ID: 11, Subject: "Hello", Body: "Hi there"},
				{ID: 14, Subject: "Hello", Body: "Sure thing"},
			},
		},
	}
}

func TestSessionListAndRetrieve(t *testing.T) {
	runSession(t, testStore(), []script{
		{"USER a@x.com", []string{"+OK user accepted"}},
		{"PASS hunter2", []string{"+OK authenticated"}},
		{"LIST", []string{"+OK 2 messages", "1 11", "2 14", "."}},
		{"RETR 2", []string{"+OK Hello", "Subject: Hello", "Sure thing", "."}},
		{"RETR 3", []string{"-ERR message not found"}},
		{"RETR x", []string{"-ERR message not found"}},
		{"QUIT", []string{"+OK Goodbye"}},
	})
}

func TestSessionWrongPasswordStaysLockedOut(t *testing.T) {
	runSession(t, testStore(), []script{
		{"USER a@x.com", []string{"+OK user accepted"}},
		{"PASS wrong", []string{"-ERR invalid credentials"}},
		{"LIST", []string{"-ERR unknown command"}},
		{"PASS hunter2", []string{"+OK authenticated"}},
		{"LIST", []string{"+OK 2 messages", "1 11", "2 14", "."}},
		{"QUIT", []string{"+OK Goodbye"}},
	})
}

func TestSessionUnknownIdentity(t *testing.T) {
	runSession(t, testStore(), []script{
		{"USER nobody@x.com", []string{"+OK user accepted"}},
		{"PASS hunter2", []string{"-ERR invalid credentials"}},
		{"QUIT", []string{"+OK Goodbye"}},
	})
}

func TestSessionRejectsBeforeAuth(t *testing.T) {
	runSession(t, testStore(), []script{
		{"LIST", []string{"-ERR unknown command"}},
		{"RETR 1", []string{"-ERR unknown command"}},
		{"FROBNICATE", []string{"-ERR unknown command"}},
		{"QUIT", []string{"+OK Goodbye"}},
	})
}

func TestSessionPassBeforeUser(t *testing.T) {
	runSession(t, testStore(), []script{
		{"PASS hunter2", []string{"-ERR invalid credentials"}},
		{"USER a@x.com", []string{"+OK user accepted"}},
		{"PASS hunter2", []string{"+OK authenticated"}},
		{"QUIT", []string{"+OK Goodbye"}},
	})
}

func TestSessionEmptyMailbox(t *testing.T) {
	store := testStore()
	store.secrets["b@x.com"] = "s3cret"
	runSession(t, store, []script{
		{"USER b@x.com", []string{"+OK user accepted"}},
		{"PASS s3cret", []string{"+OK authenticated"}},
		{"LIST", []string{"+OK 0 messages", "."}},
		{"RETR 1", []string{"-ERR message not found"}},
		{"QUIT", []string{"+OK Goodbye"}},
	})
}
