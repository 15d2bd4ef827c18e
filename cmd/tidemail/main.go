/*
 *  This Source Code Form is subject to the terms of the Mozilla Public
 *  License, v. 2.0. If a copy of the MPL was not distributed with this
 *  file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"golang.org/x/term"

	"github.com/tidemail/tidemail/internal/config"
	"github.com/tidemail/tidemail/internal/crypto"
	"github.com/tidemail/tidemail/internal/federation"
	"github.com/tidemail/tidemail/internal/logging"
	"github.com/tidemail/tidemail/internal/mailstore"
	"github.com/tidemail/tidemail/internal/notify"
	"github.com/tidemail/tidemail/internal/popserver"
	"github.com/tidemail/tidemail/internal/smtpserver"
	"github.com/tidemail/tidemail/internal/storage/sqlite3"
)

func main() {
	configPath := flag.String("config", "", "path to config file (optional)")
	createUser := flag.String("create-user", "", "create a mailbox for the given address and exit")
	flag.Parse()

	log := logging.New(os.Stdout, "tidemail", color.MagentaString, "info")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading configuration: %v", err)
	}
	log = logging.New(os.Stdout, "tidemail", color.MagentaString, cfg.LogLevel)

	codec, err := crypto.NewCodec(cfg.EncryptionKey, cfg.EncryptionIV)
	if err != nil {
		log.Fatalf("building field codec: %v", err)
	}

	storage, err := sqlite3.NewSQLite3Storage(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("opening database %q: %v", cfg.DatabasePath, err)
	}
	defer storage.Close()

	hub := notify.NewHub(logging.New(os.Stdout, "notify", color.YellowString, cfg.LogLevel))
	relay := federation.NewLogRelay(logging.New(os.Stdout, "relay", color.YellowString, cfg.LogLevel))
	store := mailstore.New(storage, codec, logging.New(os.Stdout, "store", color.GreenString, cfg.LogLevel), mailstore.Options{
		Notifier:        hub,
		Relay:           relay,
		ExternalDomains: cfg.ExternalDomains,
	})

	if *createUser != "" {
		if err := createMailbox(store, *createUser); err != nil {
			log.Fatalf("creating mailbox: %v", err)
		}
		fmt.Println(color.GreenString("Mailbox %s created", *createUser))
		return
	}

	smtpSrv := smtpserver.NewSMTPServer(store, logging.New(os.Stdout, "smtp", color.CyanString, cfg.LogLevel))
	popSrv := popserver.NewPOPServer(store, logging.New(os.Stdout, "pop3", color.BlueString, cfg.LogLevel))

	errs := make(chan error, 2)
	go func() {
		errs <- smtpSrv.ListenAndServe(cfg.SMTPListen)
	}()
	go func() {
		errs <- popSrv.ListenAndServe(cfg.POPListen)
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errs:
		if err != nil {
			log.Errorf("server stopped: %v", err)
		}
	case sig := <-sigs:
		log.Printf("received %s, shutting down", sig)
	}

	if err := smtpSrv.Close(); err != nil {
		log.Warnf("closing SMTP server: %v", err)
	}
	if err := popSrv.Close(); err != nil {
		log.Warnf("closing POP3 server: %v", err)
	}
	accepted, rejected := smtpSrv.Stored()
	log.Printf("accepted %d messages, rejected %d", accepted, rejected)
}

// createMailbox prompts for names and a password on the terminal and
// registers the user.
func createMailbox(store *mailstore.Store, email string) error {
	stdin := bufio.NewReader(os.Stdin)

	fmt.Print("First name: ")
	first, err := stdin.ReadString('\n')
	if err != nil {
		return fmt.Errorf("reading first name: %w", err)
	}
	fmt.Print("Last name: ")
	last, err := stdin.ReadString('\n')
	if err != nil {
		return fmt.Errorf("reading last name: %w", err)
	}

	fmt.Print("Password: ")
	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return fmt.Errorf("reading password: %w", err)
	}
	fmt.Print("Repeat password: ")
	confirm, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return fmt.Errorf("reading password confirmation: %w", err)
	}
	if string(password) != string(confirm) {
		return fmt.Errorf("passwords do not match")
	}

	_, err = store.RegisterUser(email, strings.TrimSpace(first), strings.TrimSpace(last), string(password))
	return err
}
