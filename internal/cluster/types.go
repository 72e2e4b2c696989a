package cluster

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dreamware/iddir/internal/directory"
)

// ActionKind names the write an Action performs.
type ActionKind int

const (
	ActionCreate ActionKind = iota + 1
	ActionModify
	ActionDelete
)

func (k ActionKind) String() string {
	switch k {
	case ActionCreate:
		return "CREATE"
	case ActionModify:
		return "MODIFY"
	case ActionDelete:
		return "DELETE"
	default:
		return fmt.Sprintf("ActionKind(%d)", int(k))
	}
}

// Action is the unit of replication.
//
// Aux holds the display name for CREATE and the new login name for MODIFY.
// UniqueID, Origin and At are stamped by the coordinator before the action
// is applied, so every replica stores the same id, creator and times.
type Action struct {
	Kind       ActionKind `json:"kind"`
	LoginName  string     `json:"login_name"`
	Credential string     `json:"credential,omitempty"`
	Aux        string     `json:"aux,omitempty"`
	UniqueID   string     `json:"unique_id,omitempty"`
	Origin     string     `json:"origin,omitempty"`
	At         time.Time  `json:"at"`
}

func (a Action) String() string {
	switch a.Kind {
	case ActionCreate:
		return fmt.Sprintf("%s %s (%s)", a.Kind, a.LoginName, a.UniqueID)
	case ActionModify:
		return fmt.Sprintf("%s %s -> %s", a.Kind, a.LoginName, a.Aux)
	default:
		return fmt.Sprintf("%s %s", a.Kind, a.LoginName)
	}
}

// LogEntry is an action together with the coordinator timestamp it was applied at.
type LogEntry struct {
	Timestamp int64  `json:"timestamp"`
	Action    Action `json:"action"`
}

// ErrorKind is the typed outcome of a client request.
type ErrorKind int

const (
	None ErrorKind = iota
	NoSuchUser
	NameCollision
	IncorrectCredential
	MalformedInput
	// NotCoordinator is returned for writes sent to a replica; Response.Text
	// carries the coordinator address when one is known.
	NotCoordinator
)

var errorKindNames = map[ErrorKind]string{
	None:                "NONE",
	NoSuchUser:          "NO_SUCH_USER",
	NameCollision:       "NAME_COLLISION",
	IncorrectCredential: "INCORRECT_CREDENTIAL",
	MalformedInput:      "MALFORMED_INPUT",
	NotCoordinator:      "NOT_COORDINATOR",
}

func (k ErrorKind) String() string {
	if s, ok := errorKindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

func (k ErrorKind) MarshalText() ([]byte, error) {
	s, ok := errorKindNames[k]
	if !ok {
		return nil, fmt.Errorf("unknown error kind %d", int(k))
	}
	return []byte(s), nil
}

func (k *ErrorKind) UnmarshalText(text []byte) error {
	name := strings.ToUpper(string(text))
	for kind, s := range errorKindNames {
		if s == name {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown error kind %q", text)
}

// KindOf maps a directory error to its client-facing kind.
// Unrecognized errors map to MalformedInput.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return None
	case errors.Is(err, directory.ErrNoSuchUser):
		return NoSuchUser
	case errors.Is(err, directory.ErrNameCollision):
		return NameCollision
	case errors.Is(err, directory.ErrIncorrectCredential):
		return IncorrectCredential
	default:
		return MalformedInput
	}
}

// Response is returned by every client operation, over RPC and HTTP alike.
//
// Text holds the new unique id after a create, the coordinator address for
// whoIsCoordinator and NotCoordinator, and an error description otherwise.
type Response struct {
	Status  ErrorKind         `json:"status"`
	Text    string            `json:"text,omitempty"`
	Record  *directory.Record `json:"record,omitempty"`
	Listing []string          `json:"listing,omitempty"`
}

// OK reports whether the request succeeded.
func (r Response) OK() bool {
	return r.Status == None
}

// Fail builds a failed response from a directory error.
func Fail(err error) Response {
	return Response{Status: KindOf(err), Text: err.Error()}
}

// SyncPayload answers a sync request. Exactly one of the following holds:
// UpToDate is set; Full is set and Snapshot is the whole table as of AsOf;
// or Tail holds the entries after the requested timestamp in ascending order.
type SyncPayload struct {
	UpToDate bool
	Full     bool
	Snapshot map[string]directory.Record
	AsOf     int64
	Tail     []LogEntry
}

func (p SyncPayload) String() string {
	switch {
	case p.UpToDate:
		return "up to date"
	case p.Full:
		return fmt.Sprintf("snapshot of %d records as of @%d", len(p.Snapshot), p.AsOf)
	default:
		return fmt.Sprintf("tail of %d actions", len(p.Tail))
	}
}

// Header is carried by every peer message. Sender is the address the
// sender is configured under on the receiving side.
type Header struct {
	Sender string
	Clock  int64
}

// Ack is the reply to one-way peer messages; Clock lets the caller observe
// the receiver's clock.
type Ack struct {
	Clock int64
}

type ReplicateArgs struct {
	Header
	Entry    LogEntry
	Previous int64 // timestamp of the coordinator's previous logged action
}

type PingArgs struct {
	Header
	LastApplied int64
}

type PingReply struct {
	Clock    int64
	UpToDate bool
}

type SyncArgs struct {
	Header
	Since int64
}

type SyncReply struct {
	Clock   int64
	Payload SyncPayload
}

type ElectionArgs struct {
	Header
}

type CoordinatorReply struct {
	Clock   int64
	Address string // empty when unknown
}

// Client request arguments. JSON tags match the gateway bodies.

type CreateArgs struct {
	LoginName   string `json:"login_name"`
	DisplayName string `json:"display_name"`
	Credential  string `json:"credential"`
	Origin      string `json:"-"`
}

type ModifyArgs struct {
	OldName    string `json:"-"`
	NewName    string `json:"new_name"`
	Credential string `json:"credential"`
}

type DeleteArgs struct {
	LoginName  string `json:"-"`
	Credential string `json:"credential"`
}

type LookupArgs struct {
	LoginName string
}

type ReverseLookupArgs struct {
	UniqueID string
}

type ListArgs struct {
	Selector string
}

type WhoIsCoordinatorArgs struct {
	MaxWait time.Duration // zero waits until a coordinator is known
}

// PeerInfo describes one configured peer in a status report.
type PeerInfo struct {
	Addr      string `json:"addr"`
	Connected bool   `json:"connected"`
}

// Status is a point-in-time view of a node.
type Status struct {
	Address     string     `json:"address"`
	Role        string     `json:"role"`
	Coordinator string     `json:"coordinator,omitempty"`
	Clock       int64      `json:"clock"`
	LastApplied int64      `json:"last_applied"`
	LogSize     int        `json:"log_size"`
	LogCapacity int        `json:"log_capacity"`
	Records     int        `json:"records"`
	Peers       []PeerInfo `json:"peers"`

	Operations  directory.Stats `json:"operations"`
	Persistence *PersistStatus  `json:"persistence,omitempty"`
}

// PersistStatus describes the saved copy of the table.
type PersistStatus struct {
	LastSaved time.Time `json:"last_saved"` // zero until the first save
	Saves     int       `json:"saves"`
	Keys      int       `json:"keys"`
	Bytes     int       `json:"bytes"`
}
