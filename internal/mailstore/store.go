/*
 *  This Source Code Form is subject to the terms of the Mozilla Public
 *  License, v. 2.0. If a copy of the MPL was not distributed with this
 *  file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

// Package mailstore is the authoritative threading engine. It owns
// thread creation, message append, per-viewer classification and trash
// overlays, and the encode-at-write / decode-at-read boundary for
// encrypted fields. The protocol servers and the spam engine all go
// through it.
package mailstore

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	gologme "github.com/gologme/log"

	"github.com/tidemail/tidemail/internal/crypto"
	"github.com/tidemail/tidemail/internal/federation"
	"github.com/tidemail/tidemail/internal/spam"
	"github.com/tidemail/tidemail/internal/storage/sqlite3"
	"github.com/tidemail/tidemail/internal/storage/types"
	"github.com/tidemail/tidemail/internal/utils"
)

const noSubject = "(no subject)"

// Notifier is the fire-and-forget notification sink. Its failure must
// never fail the enclosing store operation, so it has no return value.
type Notifier interface {
	Notify(identity, event string, payload any)
}

// Relay hands a message to the outbound federation collaborator when
// the recipient is not a local user.
type Relay interface {
	Relay(sender, recipient, subject, body string) (federation.Result, error)
}

// ThreadNotification is the payload published when a new thread is
// created.
type ThreadNotification struct {
	ThreadID      int64
	Title         string
	Class         types.ThreadClass
	LastMessage   string
	LastSentAt    int64
	SenderID      int64
	ReceiverID    int64
	SenderEmail   string
	ReceiverEmail string
	PartnerEmail  string
}

// MessageNotification is the payload published for a message appended
// to an existing thread. Each participant receives their own copy with
// the other party as partner.
type MessageNotification struct {
	MessageID    int64
	ThreadID     int64
	SenderID     int64
	ReceiverID   int64
	Body         string
	SentAt       int64
	Title        string
	Class        types.ThreadClass
	PartnerID    int64
	PartnerEmail string
}

type Options struct {
	Notifier        Notifier
	Relay           Relay
	ExternalDomains []string
}

type Store struct {
	storage         *sqlite3.SQLite3Storage
	codec           *crypto.Codec
	classifier      *spam.Classifier
	notifier        Notifier
	relay           Relay
	externalDomains []string
	log             *gologme.Logger
}

func New(storage *sqlite3.SQLite3Storage, codec *crypto.Codec, log *gologme.Logger, opts Options) *Store {
	s := &Store{
		storage:         storage,
		codec:           codec,
		notifier:        opts.Notifier,
		relay:           opts.Relay,
		externalDomains: opts.ExternalDomains,
		log:             log,
	}
	s.classifier = spam.NewClassifier(s)
	return s
}

// RegisterUser creates a local account. Identity fields are encoded
// before they hit storage; the password is hashed, never encoded.
func (s *Store) RegisterUser(email, firstName, lastName, password string) (types.User, error) {
	email, err := utils.NormalizeAddress(email)
	if err != nil {
		return types.User{}, err
	}
	if _, err := s.storage.Users.UserByEmail(s.codec.Encode(email)); err == nil {
		return types.User{}, fmt.Errorf("email already exists")
	} else if !errors.Is(err, sql.ErrNoRows) {
		return types.User{}, fmt.Errorf("UserByEmail: %w", err)
	}
	hash, err := crypto.HashPassword(password)
	if err != nil {
		return types.User{}, err
	}
	id, err := s.storage.Users.UserCreate(nil,
		s.codec.Encode(email), s.codec.Encode(firstName), s.codec.Encode(lastName), hash)
	if err != nil {
		return types.User{}, fmt.Errorf("UserCreate: %w", err)
	}
	return types.User{ID: id, Email: email, FirstName: firstName, LastName: lastName}, nil
}

// UserByIdentity resolves an identity string to a user with decoded
// fields. Returns ErrParticipantNotFound when unknown.
func (s *Store) UserByIdentity(identity string) (types.User, error) {
	u, err := s.storage.Users.UserByEmail(s.codec.Encode(strings.TrimSpace(identity)))
	if errors.Is(err, sql.ErrNoRows) {
		return types.User{}, fmt.Errorf("%w: %s", ErrParticipantNotFound, identity)
	}
	if err != nil {
		return types.User{}, fmt.Errorf("UserByEmail: %w", err)
	}
	return s.decodeUser(u)
}

// AuthenticateUser verifies a mailbox owner's credential. Unknown
// identities and shadow users fail closed without error.
func (s *Store) AuthenticateUser(identity, password string) (bool, error) {
	u, err := s.storage.Users.UserByEmail(s.codec.Encode(strings.TrimSpace(identity)))
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("UserByEmail: %w", err)
	}
	if u.PasswordHash == "" {
		return false, nil
	}
	return crypto.ComparePassword(password, u.PasswordHash), nil
}

// CreateThread always creates a new thread with the default class.
func (s *Store) CreateThread(senderID, receiverID int64, title string) (types.MailThread, error) {
	if title == "" {
		title = noSubject
	}
	id, err := s.storage.Threads.ThreadCreate(nil, title, senderID, receiverID, false)
	if err != nil {
		return types.MailThread{}, fmt.Errorf("ThreadCreate: %w", err)
	}
	return s.storage.Threads.ThreadByID(id)
}

// AppendMessage adds a message to a thread. The message, its
// attachment records and the thread timestamp update commit as one
// unit; a failure anywhere rolls the whole append back.
func (s *Store) AppendMessage(threadID, senderID int64, body string, atts []types.Attachment) (types.MailMessage, error) {
	if _, err := s.storage.Threads.ThreadByID(threadID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.MailMessage{}, fmt.Errorf("%w: %d", ErrInvalidThread, threadID)
		}
		return types.MailMessage{}, fmt.Errorf("ThreadByID: %w", err)
	}
	var msg types.MailMessage
	err := s.storage.Transact(func(txn *sql.Tx) error {
		var err error
		msg, err = s.storage.Messages.MessageCreate(txn, threadID, senderID, s.codec.Encode(body))
		if err != nil {
			return fmt.Errorf("MessageCreate: %w", err)
		}
		if err := s.storage.Files.FilesCreate(txn, msg.ID, atts); err != nil {
			return fmt.Errorf("FilesCreate: %w", err)
		}
		return s.storage.Threads.ThreadTouch(txn, threadID)
	})
	if err != nil {
		return types.MailMessage{}, err
	}
	msg.Body = body
	msg.Attachments = atts
	return msg, nil
}

// SendNew resolves both identities, creates a thread with its first
// message atomically, classifies the message into the recipient's
// overlay, and notifies both parties after commit. Recipients whose
// domain is configured as external are handed to the federation relay
// instead of failing resolution.
func (s *Store) SendNew(sender, recipient, title, body string, atts []types.Attachment) (types.MailThread, types.MailMessage, error) {
	su, err := s.UserByIdentity(sender)
	if err != nil {
		return types.MailThread{}, types.MailMessage{}, err
	}
	ru, err := s.UserByIdentity(recipient)
	if errors.Is(err, ErrParticipantNotFound) {
		if s.relay != nil && utils.MatchesDomain(recipient, s.externalDomains) {
			return s.sendExternal(su, sender, recipient, title, body, atts)
		}
		return types.MailThread{}, types.MailMessage{}, err
	}
	if err != nil {
		return types.MailThread{}, types.MailMessage{}, err
	}

	// Classification reads the pair's history as it stood before this
	// message, so it runs ahead of the transaction.
	isSpam, err := s.classifier.Classify(body, sender, recipient)
	if err != nil {
		return types.MailThread{}, types.MailMessage{}, fmt.Errorf("classify: %w", err)
	}

	if title == "" {
		title = noSubject
	}
	var threadID int64
	var msg types.MailMessage
	err = s.storage.Transact(func(txn *sql.Tx) error {
		var err error
		threadID, err = s.storage.Threads.ThreadCreate(txn, title, su.ID, ru.ID, false)
		if err != nil {
			return fmt.Errorf("ThreadCreate: %w", err)
		}
		msg, err = s.storage.Messages.MessageCreate(txn, threadID, su.ID, s.codec.Encode(body))
		if err != nil {
			return fmt.Errorf("MessageCreate: %w", err)
		}
		if err := s.storage.Files.FilesCreate(txn, msg.ID, atts); err != nil {
			return fmt.Errorf("FilesCreate: %w", err)
		}
		if isSpam {
			if err := s.storage.Statuses.StatusUpsert(txn, threadID, ru.ID, types.ClassSpam); err != nil {
				return fmt.Errorf("StatusUpsert: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return types.MailThread{}, types.MailMessage{}, err
	}

	thread, err := s.storage.Threads.ThreadByID(threadID)
	if err != nil {
		return types.MailThread{}, types.MailMessage{}, fmt.Errorf("ThreadByID: %w", err)
	}
	msg.Body = body
	msg.Attachments = atts

	class := types.ClassNormal
	if isSpam {
		class = types.ClassSpam
	}
	payload := ThreadNotification{
		ThreadID:      thread.ID,
		Title:         thread.Title,
		Class:         class,
		LastMessage:   body,
		LastSentAt:    msg.SentAt.Unix(),
		SenderID:      su.ID,
		ReceiverID:    ru.ID,
		SenderEmail:   su.Email,
		ReceiverEmail: ru.Email,
		PartnerEmail:  ru.Email,
	}
	s.notify(ru.Email, "newThread", payload)
	s.notify(su.Email, "newThread", payload)
	return thread, msg, nil
}

// sendExternal relays the message out and mirrors it locally: a shadow
// user for the recipient, an external thread, and a log row keyed by
// the relay's correlation token.
func (s *Store) sendExternal(su types.User, sender, recipient, title, body string, atts []types.Attachment) (types.MailThread, types.MailMessage, error) {
	res, err := s.relay.Relay(sender, recipient, title, body)
	if err != nil {
		return types.MailThread{}, types.MailMessage{}, fmt.Errorf("relay: %w", err)
	}
	if !res.Success {
		return types.MailThread{}, types.MailMessage{}, fmt.Errorf("relay refused message for %s", recipient)
	}

	if title == "" {
		title = noSubject
	}
	var threadID int64
	var msg types.MailMessage
	err = s.storage.Transact(func(txn *sql.Tx) error {
		shadowID, err := s.storage.Users.UserCreate(txn, s.codec.Encode(recipient), "", "", "")
		if err != nil {
			return fmt.Errorf("UserCreate(shadow): %w", err)
		}
		threadID, err = s.storage.Threads.ThreadCreate(txn, title, su.ID, shadowID, true)
		if err != nil {
			return fmt.Errorf("ThreadCreate: %w", err)
		}
		msg, err = s.storage.Messages.MessageCreate(txn, threadID, su.ID, s.codec.Encode(body))
		if err != nil {
			return fmt.Errorf("MessageCreate: %w", err)
		}
		if err := s.storage.Files.FilesCreate(txn, msg.ID, atts); err != nil {
			return fmt.Errorf("FilesCreate: %w", err)
		}
		_, err = s.storage.External.LogCreate(txn, types.ExternalEmailLog{
			MessageID:     msg.ID,
			ThreadID:      threadID,
			SenderEmail:   s.codec.Encode(sender),
			ReceiverEmail: s.codec.Encode(recipient),
			TrackingToken: res.Token,
			Status:        "sent",
		})
		if err != nil {
			return fmt.Errorf("LogCreate: %w", err)
		}
		return nil
	})
	if err != nil {
		return types.MailThread{}, types.MailMessage{}, err
	}
	thread, err := s.storage.Threads.ThreadByID(threadID)
	if err != nil {
		return types.MailThread{}, types.MailMessage{}, fmt.Errorf("ThreadByID: %w", err)
	}
	msg.Body = body
	msg.Attachments = atts
	s.log.Printf("relayed thread %d to %s (token %s)", thread.ID, recipient, res.Token)
	return thread, msg, nil
}

// SendInThread appends a message to an existing thread. The thread
// reference arrives as a string from the wire; anything that is not an
// existing integer id is ErrInvalidThread. Both participants are
// notified with the other party as partner.
func (s *Store) SendInThread(sender, threadRef, body string, atts []types.Attachment) (types.MailMessage, error) {
	threadID, err := strconv.ParseInt(strings.TrimSpace(threadRef), 10, 64)
	if err != nil || threadID <= 0 {
		return types.MailMessage{}, fmt.Errorf("%w: %q", ErrInvalidThread, threadRef)
	}
	thread, err := s.storage.Threads.ThreadByID(threadID)
	if errors.Is(err, sql.ErrNoRows) {
		return types.MailMessage{}, fmt.Errorf("%w: %d", ErrInvalidThread, threadID)
	}
	if err != nil {
		return types.MailMessage{}, fmt.Errorf("ThreadByID: %w", err)
	}
	su, err := s.UserByIdentity(sender)
	if err != nil {
		return types.MailMessage{}, err
	}

	msg, err := s.AppendMessage(thread.ID, su.ID, body, atts)
	if err != nil {
		return types.MailMessage{}, err
	}

	partnerID := thread.ReceiverID
	if thread.SenderID != su.ID {
		partnerID = thread.SenderID
	}
	if partnerID == 0 {
		return msg, nil
	}
	partner, err := s.userByID(partnerID)
	if err != nil {
		s.log.Warnf("partner %d lookup after append: %v", partnerID, err)
		return msg, nil
	}

	base := MessageNotification{
		MessageID:  msg.ID,
		ThreadID:   thread.ID,
		SenderID:   su.ID,
		ReceiverID: partnerID,
		Body:       body,
		SentAt:     msg.SentAt.Unix(),
		Title:      thread.Title,
		Class:      thread.Class,
	}
	forPartner := base
	forPartner.PartnerID = su.ID
	forPartner.PartnerEmail = su.Email
	forSender := base
	forSender.PartnerID = partner.ID
	forSender.PartnerEmail = partner.Email
	s.notify(partner.Email, "newMail", forPartner)
	s.notify(su.Email, "newMail", forSender)
	return msg, nil
}

// ListConversations lists the viewer's active threads, newest first,
// each joined with its latest message and the viewer's effective
// class (overlay first, then the thread default).
func (s *Store) ListConversations(userID int64) ([]types.ConversationSummary, error) {
	rows, err := s.storage.Threads.SummariesFor(userID)
	if err != nil {
		return nil, fmt.Errorf("SummariesFor: %w", err)
	}
	return s.decorate(rows, userID)
}

// ListTrash lists the viewer's soft-trashed threads, decorated the
// same way as ListConversations. Forever-deleted threads stay hidden.
func (s *Store) ListTrash(userID int64) ([]types.ConversationSummary, error) {
	rows, err := s.storage.Threads.TrashedFor(userID)
	if err != nil {
		return nil, fmt.Errorf("TrashedFor: %w", err)
	}
	return s.decorate(rows, userID)
}

func (s *Store) decorate(rows []sqlite3.SummaryRow, userID int64) ([]types.ConversationSummary, error) {
	partners := make(map[int64]types.User)
	out := make([]types.ConversationSummary, 0, len(rows))
	for _, r := range rows {
		cs := types.ConversationSummary{
			ThreadID:   r.ThreadID,
			Title:      r.Title,
			Class:      types.ThreadClass(r.Class),
			LastSentAt: r.LastSentAt,
			IsRead:     r.LastMsgID == 0,
		}
		if cs.Title == "" {
			cs.Title = noSubject
		}
		if r.LastMsgID != 0 {
			body, err := s.codec.Decode(r.LastBody)
			if err != nil {
				return nil, fmt.Errorf("decode last message of thread %d: %w", r.ThreadID, err)
			}
			cs.LastMessage = body
			cs.LastSenderID = r.LastSenderID
			count, err := s.storage.Files.FileCount(r.LastMsgID)
			if err != nil {
				return nil, fmt.Errorf("FileCount: %w", err)
			}
			cs.AttachmentCount = count
		}
		partnerID := r.ReceiverID
		if r.SenderID != userID {
			partnerID = r.SenderID
		}
		if partnerID != 0 {
			partner, ok := partners[partnerID]
			if !ok {
				var err error
				partner, err = s.userByID(partnerID)
				if err != nil {
					return nil, err
				}
				partners[partnerID] = partner
			}
			cs.PartnerID = partner.ID
			cs.PartnerEmail = partner.Email
		}
		out = append(out, cs)
	}
	return out, nil
}

// GetThreadMessages returns a thread's messages oldest first, with
// attachment metadata resolved. A viewer who is not a participant gets
// an empty listing, not an error.
func (s *Store) GetThreadMessages(userID, threadID int64) ([]types.MailMessage, error) {
	thread, err := s.storage.Threads.ThreadByID(threadID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ThreadByID: %w", err)
	}
	if thread.SenderID != userID && thread.ReceiverID != userID {
		return nil, nil
	}
	msgs, err := s.storage.Messages.MessagesForThread(threadID)
	if err != nil {
		return nil, fmt.Errorf("MessagesForThread: %w", err)
	}
	for i := range msgs {
		body, err := s.codec.Decode(msgs[i].Body)
		if err != nil {
			return nil, fmt.Errorf("decode message %d: %w", msgs[i].ID, err)
		}
		msgs[i].Body = body
		atts, err := s.storage.Files.FilesForMessage(msgs[i].ID)
		if err != nil {
			return nil, fmt.Errorf("FilesForMessage: %w", err)
		}
		msgs[i].Attachments = atts
	}
	return msgs, nil
}

// SetThreadStatus overwrites the viewer's classification overlay for a
// thread. The thread's default class is untouched; the other
// participant keeps their own view.
func (s *Store) SetThreadStatus(threadID, userID int64, class types.ThreadClass) (types.MailThreadStatus, error) {
	if !class.Valid() {
		return types.MailThreadStatus{}, fmt.Errorf("invalid class %q", class)
	}
	if _, err := s.storage.Threads.ThreadByID(threadID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.MailThreadStatus{}, fmt.Errorf("%w: %d", ErrInvalidThread, threadID)
		}
		return types.MailThreadStatus{}, fmt.Errorf("ThreadByID: %w", err)
	}
	if err := s.storage.Statuses.StatusUpsert(nil, threadID, userID, class); err != nil {
		return types.MailThreadStatus{}, fmt.Errorf("StatusUpsert: %w", err)
	}
	return s.storage.Statuses.StatusGet(threadID, userID)
}

// MoveToTrash puts a thread into the viewer's trash.
func (s *Store) MoveToTrash(userID, threadID int64) error {
	if err := s.requireThread(threadID); err != nil {
		return err
	}
	return s.storage.Trash.TrashUpsert(nil, userID, threadID)
}

// RestoreFromTrash brings a soft-trashed thread back. Restoring a
// forever-deleted thread is not possible: the tombstone row is updated
// only towards forever, never away from it once set by DeleteForever.
func (s *Store) RestoreFromTrash(userID, threadID int64) error {
	entry, err := s.storage.Trash.TrashGet(userID, threadID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("TrashGet: %w", err)
	}
	if entry.DeleteForever {
		return nil
	}
	return s.storage.Trash.TrashDelete(nil, userID, threadID)
}

// DeleteForever hides a thread permanently for this viewer. The data
// remains for the other participant.
func (s *Store) DeleteForever(userID, threadID int64) error {
	if err := s.requireThread(threadID); err != nil {
		return err
	}
	if err := s.storage.Trash.TrashUpsert(nil, userID, threadID); err != nil {
		return fmt.Errorf("TrashUpsert: %w", err)
	}
	return s.storage.Trash.TrashMarkForever(nil, userID, threadID)
}

// Inbox lists the mailbox owner's received messages in stored order,
// for the retrieval protocol.
func (s *Store) Inbox(identity string) ([]types.InboxItem, error) {
	u, err := s.UserByIdentity(identity)
	if err != nil {
		return nil, err
	}
	items, err := s.storage.Messages.InboxFor(u.ID)
	if err != nil {
		return nil, fmt.Errorf("InboxFor: %w", err)
	}
	for i := range items {
		body, err := s.codec.Decode(items[i].Body)
		if err != nil {
			return nil, fmt.Errorf("decode message %d: %w", items[i].ID, err)
		}
		items[i].Body = body
	}
	return items, nil
}

// FindThreadByTitle is the subject-based reply matcher: exact match on
// the stripped subject, no thread-id correlation.
func (s *Store) FindThreadByTitle(title string) (types.MailThread, bool, error) {
	return s.storage.Threads.ThreadByTitle(title)
}

// FindThreadByToken matches a correlated federation reply back to its
// originating thread.
func (s *Store) FindThreadByToken(token string) (types.MailThread, error) {
	entry, err := s.storage.External.LogByToken(token)
	if errors.Is(err, sql.ErrNoRows) {
		return types.MailThread{}, fmt.Errorf("%w: no thread for token %q", ErrInvalidThread, token)
	}
	if err != nil {
		return types.MailThread{}, fmt.Errorf("LogByToken: %w", err)
	}
	return s.storage.Threads.ThreadByID(entry.ThreadID)
}

// PairThreadStats implements spam.History. Unknown identities count as
// no history.
func (s *Store) PairThreadStats(sender, recipient string) (total, replied, spamCount int, err error) {
	su, ru, ok, err := s.resolvePair(sender, recipient)
	if err != nil || !ok {
		return 0, 0, 0, err
	}
	return s.storage.Threads.PairThreadStats(su, ru)
}

// PairReplyCount implements spam.History.
func (s *Store) PairReplyCount(sender, recipient string) (int, error) {
	su, ru, ok, err := s.resolvePair(sender, recipient)
	if err != nil || !ok {
		return 0, err
	}
	thread, found, err := s.storage.Threads.PairThread(su, ru)
	if err != nil || !found {
		return 0, err
	}
	return s.storage.Messages.MessageCountByAuthor(thread.ID, ru)
}

func (s *Store) resolvePair(sender, recipient string) (senderID, recipientID int64, ok bool, err error) {
	su, err := s.storage.Users.UserByEmail(s.codec.Encode(strings.TrimSpace(sender)))
	if errors.Is(err, sql.ErrNoRows) {
		return 0, 0, false, nil
	}
	if err != nil {
		return 0, 0, false, fmt.Errorf("UserByEmail(sender): %w", err)
	}
	ru, err := s.storage.Users.UserByEmail(s.codec.Encode(strings.TrimSpace(recipient)))
	if errors.Is(err, sql.ErrNoRows) {
		return 0, 0, false, nil
	}
	if err != nil {
		return 0, 0, false, fmt.Errorf("UserByEmail(recipient): %w", err)
	}
	return su.ID, ru.ID, true, nil
}

func (s *Store) requireThread(threadID int64) error {
	if _, err := s.storage.Threads.ThreadByID(threadID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %d", ErrInvalidThread, threadID)
		}
		return fmt.Errorf("ThreadByID: %w", err)
	}
	return nil
}

func (s *Store) userByID(id int64) (types.User, error) {
	u, err := s.storage.Users.UserByID(id)
	if err != nil {
		return types.User{}, fmt.Errorf("UserByID: %w", err)
	}
	return s.decodeUser(u)
}

func (s *Store) decodeUser(u types.User) (types.User, error) {
	var err error
	if u.Email, err = s.codec.Decode(u.Email); err != nil {
		return types.User{}, fmt.Errorf("decode email of user %d: %w", u.ID, err)
	}
	if u.FirstName, err = s.codec.Decode(u.FirstName); err != nil {
		return types.User{}, fmt.Errorf("decode first name of user %d: %w", u.ID, err)
	}
	if u.LastName, err = s.codec.Decode(u.LastName); err != nil {
		return types.User{}, fmt.Errorf("decode last name of user %d: %w", u.ID, err)
	}
	return u, nil
}

func (s *Store) notify(identity, event string, payload any) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(identity, event, payload)
}
