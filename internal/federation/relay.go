/*
 *  This Source Code Form is subject to the terms of the Mozilla Public
 *  License, v. 2.0. If a copy of the MPL was not distributed with this
 *  file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

// Package federation holds the outbound relay collaborator used when a
// recipient cannot be resolved to a local user. The actual provider
// lives outside this process; what the core needs from it is a
// success/failure signal and a correlation token it can embed in the
// outbound subject and store, so a later reply carrying the token can
// be matched back to the thread.
package federation

import (
	"fmt"

	gologme "github.com/gologme/log"
	"github.com/google/uuid"
)

// Result is the relay's answer for one outbound message.
type Result struct {
	Success bool
	Token   string
}

// SubjectWithToken tags an outbound subject with the correlation token
// the way replies are expected to echo it back.
func SubjectWithToken(subject, token string) string {
	if subject == "" {
		subject = "(No subject)"
	}
	return fmt.Sprintf("%s [ref:%s]", subject, token)
}

// LogRelay is the default relay. It mints a correlation token and logs
// the outbound message instead of handing it to a provider, keeping
// the local bookkeeping path (shadow user, external log) exercisable
// without provider credentials.
type LogRelay struct {
	log *gologme.Logger
}

func NewLogRelay(log *gologme.Logger) *LogRelay {
	return &LogRelay{log: log}
}

func (r *LogRelay) Relay(sender, recipient, subject, body string) (Result, error) {
	token := uuid.NewString()
	if r.log != nil {
		r.log.Printf("relaying %q from %s to %s (token %s)",
			SubjectWithToken(subject, token), sender, recipient, token)
	}
	return Result{Success: true, Token: token}, nil
}
