// Package cluster defines the messages exchanged between identity server
// nodes and between clients and nodes.
//
// # Peer messages
//
// Peers talk over net/rpc (gob encoding). Every peer request embeds a
// Header carrying the sender's configured address and its Lamport clock
// value; every reply carries the receiver's clock so the caller can observe
// it on return.
//
//	Replica.Replicate      ReplicateArgs -> Ack
//	Replica.Ping           PingArgs      -> PingReply
//	Replica.RequestSync    SyncArgs      -> SyncReply
//	Replica.AnnounceElection / RespondElection / AnnounceVictory
//	                       ElectionArgs  -> Ack
//	Replica.Coordinator    ElectionArgs  -> CoordinatorReply
//
// A write travels as an Action inside a LogEntry whose Timestamp is the
// coordinator's clock value when it applied the action. Catch-up travels as
// a SyncPayload: a tail of log entries, a full snapshot, or "up to date".
//
// # Client messages
//
// Clients reach a node either over the Directory RPC service or the HTTP
// gateway. Both return a Response whose Status is an ErrorKind; failures
// such as an unknown user are outcomes, not transport errors. ErrorKind
// marshals to its upper-case name in JSON:
//
//	{"status":"NAME_COLLISION","text":"create \"alice\": login name already in use"}
//
// PostJSON, GetJSON and DoJSON are the JSON-over-HTTP helpers used by the
// client CLI.
package cluster
