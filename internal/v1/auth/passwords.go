// Package auth loads and answers the server's username/password directory.
//
// The directory is populated once at startup from a tab-separated passwords
// file and is read-only afterwards, so lookups need no locking.
package auth

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// Directory maps usernames to their passwords. Usernames are unique and
// matched exactly.
type Directory struct {
	users map[string]string
}

// NewDirectory builds a Directory from an in-memory mapping. Intended for
// tests and embedded deployments.
func NewDirectory(users map[string]string) *Directory {
	copied := make(map[string]string, len(users))
	for user, pass := range users {
		copied[user] = pass
	}
	return &Directory{users: copied}
}

// LoadPasswordsFile reads a passwords file with one `<user>\t<password>`
// entry per line. Blank lines are skipped; a later duplicate of a username
// overwrites the earlier entry.
func LoadPasswordsFile(path string) (*Directory, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening passwords file: %w", err)
	}
	defer f.Close()

	users := make(map[string]string)
	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimRight(scanner.Text(), "\r\n")
		if text == "" {
			continue
		}
		user, pass, found := strings.Cut(text, "\t")
		if !found || user == "" {
			return nil, fmt.Errorf("passwords file line %d: want <user>\\t<password>", line)
		}
		users[user] = pass
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading passwords file: %w", err)
	}

	return &Directory{users: users}, nil
}

// Authenticate reports whether user exists and password matches.
func (d *Directory) Authenticate(user, password string) bool {
	stored, ok := d.users[user]
	return ok && stored == password
}

// Len returns the number of registered users.
func (d *Directory) Len() int { return len(d.users) }
