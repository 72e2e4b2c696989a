package directory

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrNoSuchUser is returned when a login name or unique id is not in the table.
	ErrNoSuchUser = errors.New("no such user")
	// ErrNameCollision is returned when a login name is already taken.
	ErrNameCollision = errors.New("login name already in use")
	// ErrIncorrectCredential is returned when the supplied credential hash
	// does not match the stored one.
	ErrIncorrectCredential = errors.New("incorrect credential")
	// ErrMalformedInput is returned for requests that cannot be interpreted,
	// such as an unknown listing selector or an empty login name.
	ErrMalformedInput = errors.New("malformed input")
)

// Record is one login identity.
// UniqueID, CreatorAddress and CreatedAt are fixed at creation; LoginName
// may change through a rename.
type Record struct {
	LoginName      string    `json:"login_name"`
	UniqueID       string    `json:"unique_id"`
	DisplayName    string    `json:"display_name,omitempty"`
	CreatorAddress string    `json:"creator_address"`
	CreatedAt      time.Time `json:"created_at"`
	LastChangedAt  time.Time `json:"last_changed_at"`
	CredentialHash string    `json:"credential_hash,omitempty"`
}

// Public returns a copy of r without the credential hash, for handing to clients.
func (r Record) Public() Record {
	r.CredentialHash = ""
	return r
}

// String renders the record the way the client CLI prints it.
func (r Record) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Login name: %s\n", r.LoginName)
	if r.DisplayName != "" {
		fmt.Fprintf(&b, "Real name: %s\n", r.DisplayName)
	}
	fmt.Fprintf(&b, "UUID: %s\n", r.UniqueID)
	fmt.Fprintf(&b, "Created by: %s\n", r.CreatorAddress)
	fmt.Fprintf(&b, "Created at: %s\n", r.CreatedAt.Format(time.RFC1123))
	fmt.Fprintf(&b, "Last changed: %s", r.LastChangedAt.Format(time.RFC1123))
	return b.String()
}

// Selector picks what a listing returns.
type Selector int

const (
	SelectNames Selector = iota
	SelectIDs
	SelectAll
)

func (s Selector) String() string {
	switch s {
	case SelectNames:
		return "names"
	case SelectIDs:
		return "ids"
	case SelectAll:
		return "all"
	default:
		return fmt.Sprintf("selector(%d)", int(s))
	}
}

// ParseSelector accepts "names"/"users", "ids"/"uuids" and "all",
// case-insensitively. Anything else is ErrMalformedInput.
func ParseSelector(s string) (Selector, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "names", "users":
		return SelectNames, nil
	case "ids", "uuids":
		return SelectIDs, nil
	case "all":
		return SelectAll, nil
	}
	return 0, fmt.Errorf("selector %q: %w", s, ErrMalformedInput)
}
