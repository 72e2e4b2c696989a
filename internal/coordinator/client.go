package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dreamware/iddir/internal/cluster"
	"github.com/dreamware/iddir/internal/directory"
)

// Client operations. Writes are applied only by the coordinator; other
// nodes answer NotCoordinator with the coordinator address. Reads are served
// from the local replica.

// Create adds a user with a freshly generated unique id and replicates the
// action to every live peer.
//
// Parameters:
//   - args: LoginName is required; Credential is the hex password digest;
//     Origin is the caller's address as observed by the transport
//
// Returns:
//   - Text holds the new unique id on success
//   - NameCollision if the login name is taken
//   - NotCoordinator, with the coordinator address in Text, on other nodes
func (n *Node) Create(args cluster.CreateArgs) cluster.Response {
	if strings.TrimSpace(args.LoginName) == "" {
		return cluster.Fail(fmt.Errorf("create: empty login name: %w", directory.ErrMalformedInput))
	}
	origin := args.Origin
	if origin == "" {
		origin = "unknown"
	}
	rec, err := n.Apply(cluster.Action{
		Kind:       cluster.ActionCreate,
		LoginName:  args.LoginName,
		Credential: args.Credential,
		Aux:        args.DisplayName,
	}, origin)
	if err != nil {
		return n.failWrite(err)
	}
	n.log.Infof("Created %s (%s) for %s", rec.LoginName, rec.UniqueID, origin)
	pub := rec.Public()
	return cluster.Response{Status: cluster.None, Text: rec.UniqueID, Record: &pub}
}

// Modify renames OldName to NewName when the credential matches.
// Fails with NoSuchUser, NameCollision, IncorrectCredential or
// NotCoordinator.
func (n *Node) Modify(args cluster.ModifyArgs) cluster.Response {
	if strings.TrimSpace(args.OldName) == "" || strings.TrimSpace(args.NewName) == "" {
		return cluster.Fail(fmt.Errorf("modify: empty login name: %w", directory.ErrMalformedInput))
	}
	rec, err := n.Apply(cluster.Action{
		Kind:       cluster.ActionModify,
		LoginName:  args.OldName,
		Credential: args.Credential,
		Aux:        args.NewName,
	}, "")
	if err != nil {
		return n.failWrite(err)
	}
	n.log.Infof("Renamed %s to %s", args.OldName, rec.LoginName)
	pub := rec.Public()
	return cluster.Response{Status: cluster.None, Record: &pub}
}

// Delete removes a user when the credential matches.
func (n *Node) Delete(args cluster.DeleteArgs) cluster.Response {
	if strings.TrimSpace(args.LoginName) == "" {
		return cluster.Fail(fmt.Errorf("delete: empty login name: %w", directory.ErrMalformedInput))
	}
	_, err := n.Apply(cluster.Action{
		Kind:       cluster.ActionDelete,
		LoginName:  args.LoginName,
		Credential: args.Credential,
	}, "")
	if err != nil {
		return n.failWrite(err)
	}
	n.log.Infof("Deleted %s", args.LoginName)
	return cluster.Response{Status: cluster.None}
}

func (n *Node) failWrite(err error) cluster.Response {
	if errors.Is(err, ErrNotCoordinator) {
		return cluster.Response{Status: cluster.NotCoordinator, Text: n.Coordinator()}
	}
	n.log.Debugf("Write rejected: %v", err)
	return cluster.Fail(err)
}

// Lookup returns the record for a login name from the local replica,
// without its credential hash.
func (n *Node) Lookup(name string) cluster.Response {
	n.clock.Tick("lookup " + name)
	rec, err := n.table.Lookup(name)
	if err != nil {
		return cluster.Fail(err)
	}
	pub := rec.Public()
	return cluster.Response{Status: cluster.None, Record: &pub}
}

// ReverseLookup returns the record holding unique id from the local replica.
func (n *Node) ReverseLookup(id string) cluster.Response {
	n.clock.Tick("reverse lookup " + id)
	rec, err := n.table.ReverseLookup(id)
	if err != nil {
		return cluster.Fail(err)
	}
	pub := rec.Public()
	return cluster.Response{Status: cluster.None, Record: &pub}
}

// List answers the get request for selector: names/users, ids/uuids or all.
func (n *Node) List(selector string) cluster.Response {
	n.clock.Tick("get " + selector)
	sel, err := directory.ParseSelector(selector)
	if err != nil {
		return cluster.Fail(err)
	}
	listing, err := n.table.List(sel)
	if err != nil {
		return cluster.Fail(err)
	}
	return cluster.Response{Status: cluster.None, Listing: listing}
}

// WhoIsCoordinatorResponse wraps WhoIsCoordinator for clients.
func (n *Node) WhoIsCoordinatorResponse(ctx context.Context) cluster.Response {
	addr, err := n.WhoIsCoordinator(ctx)
	if err != nil {
		return cluster.Response{Status: cluster.NotCoordinator, Text: err.Error()}
	}
	return cluster.Response{Status: cluster.None, Text: addr}
}
