/*
 *  This Source Code Form is subject to the terms of the Mozilla Public
 *  License, v. 2.0. If a copy of the MPL was not distributed with this
 *  file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package smtpserver

import (
	"bufio"
	"errors"
	"io"
	"net"
	"strings"
	"testing"

	"github.com/tidemail/tidemail/internal/logging"
	"github.com/tidemail/tidemail/internal/storage/types"
)

type fakeStore struct {
	threads    map[string]types.MailThread
	newCalls   []string
	inThread   []string
	failStore  bool
	lastSender string
}

func newFakeStore() *fakeStore {
	return &fakeStore{threads: make(map[string]types.MailThread)}
}

func (f *fakeStore) SendNew(sender, recipient, title, body string, atts []types.Attachment) (types.MailThread, types.MailMessage, error) {
	if f.failStore {
		return types.MailThread{}, types.MailMessage{}, errors.New("store down")
	}
	f.lastSender = sender
	f.newCalls = append(f.newCalls, title)
	thread := types.MailThread{ID: int64(len(f.threads) + 1), Title: title}
	f.threads[title] = thread
	return thread, types.MailMessage{ID: 1, Body: body}, nil
}

func (f *fakeStore) SendInThread(sender, threadRef, body string, atts []types.Attachment) (types.MailMessage, error) {
	if f.failStore {
		return types.MailMessage{}, errors.New("store down")
	}
	f.inThread = append(f.inThread, threadRef)
	return types.MailMessage{ID: 2, Body: body}, nil
}

func (f *fakeStore) FindThreadByTitle(title string) (types.MailThread, bool, error) {
	thread, ok := f.threads[title]
	return thread, ok, nil
}

type script struct {
	send string
	want string
}

func runSession(t *testing.T, store *fakeStore, lines []script) {
	t.Helper()
	server := NewSMTPServer(store, logging.New(io.Discard, "smtp", nil, "info"))
	client, remote := net.Pipe()
	defer client.Close()
	sess := newSession(server, remote)
	go sess.run()

	reader := bufio.NewReader(client)
	greeting, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("reading greeting: %v", err)
	}
	if got := strings.TrimRight(greeting, "\r\n"); got != "220 SMTP server ready" {
		t.Fatalf("greeting = %q", got)
	}
	for _, step := range lines {
		if _, err := client.Write([]byte(step.send + "\r\n")); err != nil {
			t.Fatalf("writing %q: %v", step.send, err)
		}
		if step.want == "" {
			continue
		}
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("reading reply to %q: %v", step.send, err)
		}
		if got := strings.TrimRight(line, "\r\n"); got != step.want {
			t.Fatalf("reply to %q = %q, want %q", step.send, got, step.want)
		}
	}
}

func TestSessionNewThread(t *testing.T) {
	store := newFakeStore()
	runSession(t, store, []script{
		{"HELO client", "250 Hello"},
		{"MAIL FROM:<a@x.com>", "250 OK"},
		{"RCPT TO:<b@x.com>", "250 OK"},
		{"DATA", "354 End data with <CR><LF>.<CR><LF>"},
		{"Subject: Hello", ""},
		{"", ""},
		{"Hi there", ""},
		{".", "250 Message accepted"},
		{"QUIT", "221 Bye"},
	})
	if len(store.newCalls) != 1 || store.newCalls[0] != "Hello" {
		t.Fatalf("SendNew calls = %v", store.newCalls)
	}
	if store.lastSender != "a@x.com" {
		t.Fatalf("sender = %q", store.lastSender)
	}
}

func TestSessionReplyJoinsThread(t *testing.T) {
	store := newFakeStore()
	store.threads["Hello"] = types.MailThread{ID: 7, Title: "Hello"}
	runSession(t, store, []script{
		{"HELO client", "250 Hello"},
		{"MAIL FROM:<b@x.com>", "250 OK"},
		{"RCPT TO:<a@x.com>", "250 OK"},
		{"DATA", "354 End data with <CR><LF>.<CR><LF>"},
		{"Subject: Re: Hello", ""},
		{"Sure thing", ""},
		{".", "250 Message accepted"},
		{"QUIT", "221 Bye"},
	})
	if len(store.newCalls) != 0 {
		t.Fatalf("unexpected new threads %v", store.newCalls)
	}
	if len(store.inThread) != 1 || store.inThread[0] != "7" {
		t.Fatalf("SendInThread refs = %v", store.inThread)
	}
}

func TestSessionReplyWithoutThreadFallsBack(t *testing.T) {
	store := newFakeStore()
	runSession(t, store, []script{
		{"MAIL FROM:<b@x.com>", "250 OK"},
		{"RCPT TO:<a@x.com>", "250 OK"},
		{"DATA", "354 End data with <CR><LF>.<CR><LF>"},
		{"Subject: RE: Missing", ""},
		{"hello?", ""},
		{".", "250 Message accepted"},
		{"QUIT", "221 Bye"},
	})
	if len(store.inThread) != 0 {
		t.Fatalf("unexpected thread appends %v", store.inThread)
	}
	if len(store.newCalls) != 1 || store.newCalls[0] != "Missing" {
		t.Fatalf("SendNew calls = %v", store.newCalls)
	}
}

func TestSessionStoreFailureRejects(t *testing.T) {
	store := newFakeStore()
	store.failStore = true
	runSession(t, store, []script{
		{"MAIL FROM:<a@x.com>", "250 OK"},
		{"RCPT TO:<b@x.com>", "250 OK"},
		{"DATA", "354 End data with <CR><LF>.<CR><LF>"},
		{"Subject: Oops", ""},
		{"body", ""},
		{".", "550 Failed to store email"},
		{"QUIT", "221 Bye"},
	})
}

func TestSessionUnknownCommandIsPermissive(t *testing.T) {
	runSession(t, newFakeStore(), []script{
		{"NOOP whatever", "250 OK"},
		{"XYZZY", "250 OK"},
		{"QUIT", "221 Bye"},
	})
}

func TestStripReply(t *testing.T) {
	for _, tc := range []struct {
		in    string
		title string
		ok    bool
	}{
		{"Re: Hello", "Hello", true},
		{"RE: Hello", "Hello", true},
		{"re:Hello", "Hello", true},
		{"Regarding", "Regarding", false},
		{"Hello", "Hello", false},
	} {
		title, ok := stripReply(tc.in)
		if title != tc.title || ok != tc.ok {
			t.Fatalf("stripReply(%q) = %q, %v", tc.in, title, ok)
		}
	}
}

func TestSplitPayload(t *testing.T) {
	subject, body := splitPayload([]string{"Subject: Hi", "", "line one", "line two"})
	if subject != "Hi" {
		t.Fatalf("subject = %q", subject)
	}
	if body != "line one\nline two" {
		t.Fatalf("body = %q", body)
	}

	// The first line is the subject even without a Subject: token.
	subject, body = splitPayload([]string{"Hello from outside", "how are you"})
	if subject != "Hello from outside" || body != "how are you" {
		t.Fatalf("headerless = %q / %q", subject, body)
	}

	subject, body = splitPayload([]string{"only line"})
	if subject != "only line" || body != "" {
		t.Fatalf("single line = %q / %q", subject, body)
	}
	if subject, body = splitPayload(nil); subject != "" || body != "" {
		t.Fatalf("empty payload = %q / %q", subject, body)
	}
}

func TestSessionSubjectWithoutHeaderToken(t *testing.T) {
	store := newFakeStore()
	runSession(t, store, []script{
		{"MAIL FROM:<a@x.com>", "250 OK"},
		{"RCPT TO:<b@x.com>", "250 OK"},
		{"DATA", "354 End data with <CR><LF>.<CR><LF>"},
		{"Hello from outside", ""},
		{"how are you", ""},
		{".", "250 Message accepted"},
		{"QUIT", "221 Bye"},
	})
	if len(store.newCalls) != 1 || store.newCalls[0] != "Hello from outside" {
		t.Fatalf("SendNew calls = %v", store.newCalls)
	}
}
