/*
 *  This Source Code Form is subject to the terms of the Mozilla Public
 *  License, v. 2.0. If a copy of the MPL was not distributed with this
 *  file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package utils

import (
	"fmt"
	"strings"
)

// StripAngles removes the <...> wrapping used by MAIL FROM / RCPT TO
// arguments, plus surrounding whitespace.
func StripAngles(addr string) string {
	addr = strings.TrimSpace(addr)
	addr = strings.TrimPrefix(addr, "<")
	addr = strings.TrimSuffix(addr, ">")
	return strings.TrimSpace(addr)
}

// NormalizeAddress trims an identity and checks it has the shape
// local@domain with both parts non-empty.
func NormalizeAddress(email string) (string, error) {
	email = strings.TrimSpace(email)
	at := strings.LastIndex(email, "@")
	if at <= 0 || at == len(email)-1 {
		return "", fmt.Errorf("invalid email address %q", email)
	}
	return email, nil
}

// AddressDomain returns the domain part of an address, lowercased.
func AddressDomain(email string) string {
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return ""
	}
	return strings.ToLower(email[at+1:])
}

// MatchesDomain reports whether the address belongs to one of the
// given domains (case-insensitive).
func MatchesDomain(email string, domains []string) bool {
	d := AddressDomain(email)
	if d == "" {
		return false
	}
	for _, domain := range domains {
		if d == strings.ToLower(strings.TrimSpace(domain)) {
			return true
		}
	}
	return false
}
