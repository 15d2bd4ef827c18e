/*
 *  This Source Code Form is subject to the terms of the Mozilla Public
 *  License, v. 2.0. If a copy of the MPL was not distributed with this
 *  file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package types

import "time"

// ThreadClass is the three-state classification of a thread. The
// thread carries a default class; a MailThreadStatus row overrides it
// for one viewer.
type ThreadClass string

const (
	ClassNormal ThreadClass = "normal"
	ClassSpam   ThreadClass = "spam"
	ClassStar   ThreadClass = "star"
)

func (c ThreadClass) Valid() bool {
	switch c {
	case ClassNormal, ClassSpam, ClassStar:
		return true
	}
	return false
}

// User is an identity record. Email, FirstName and LastName hold
// whatever the producing layer put there: ciphertext when read from
// storage, plaintext after the mail store decodes them.
type User struct {
	ID           int64
	Email        string
	FirstName    string
	LastName     string
	PasswordHash string
	CreatedAt    time.Time
}

// MailThread is a conversation between two participants. External
// recipients get a shadow user record, so ReceiverID is normally set
// even for federated threads.
type MailThread struct {
	ID         int64
	Title      string
	Class      ThreadClass
	SenderID   int64
	ReceiverID int64
	IsExternal bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// MailMessage is one message within a thread. Immutable once created.
type MailMessage struct {
	ID          int64
	ThreadID    int64
	SenderID    int64
	Body        string
	IsRead      bool
	SentAt      time.Time
	Attachments []Attachment
}

// MailThreadStatus is the per-(thread, user) classification overlay.
type MailThreadStatus struct {
	ThreadID int64
	UserID   int64
	Class    ThreadClass
}

// TrashEntry is the per-(user, thread) trash overlay. DeleteForever
// marks the thread permanently hidden for that user; the row is a
// tombstone, never removed once set.
type TrashEntry struct {
	UserID        int64
	ThreadID      int64
	DeleteForever bool
	CreatedAt     time.Time
}

// Attachment is file metadata owned by the attachment collaborator.
// The core records and counts it but never touches file contents.
type Attachment struct {
	ID        int64
	MessageID int64
	FileName  string
	FilePath  string
	FileSize  int64
	MimeType  string
}

// ExternalEmailLog correlates a locally created message with an
// outbound federation attempt via the relay's tracking token.
type ExternalEmailLog struct {
	ID            int64
	MessageID     int64
	ThreadID      int64
	SenderEmail   string
	ReceiverEmail string
	TrackingToken string
	Status        string
	CreatedAt     time.Time
}

// ConversationSummary is one row of a user's conversation listing: the
// thread joined with its most recent message and the viewer's
// effective class.
type ConversationSummary struct {
	ThreadID     int64
	Title        string
	Class        ThreadClass
	PartnerID    int64
	PartnerEmail string
	LastMessage  string
	LastSentAt   time.Time
	IsRead       bool
	LastSenderID int64
	// AttachmentCount counts the files on the latest message.
	AttachmentCount int
}

// InboxItem is one retrievable message in a mailbox listing, as served
// over the retrieval protocol.
type InboxItem struct {
	ID      int64
	Subject string
	Body    string
	SentAt  time.Time
}
