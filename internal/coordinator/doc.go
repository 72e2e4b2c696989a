// Package coordinator implements a replica of the identity directory: the
// bully election that picks one coordinator, the write path that applies,
// logs and fans out client actions, the catch-up protocol that brings lagging
// replicas back in line, and the heartbeat that detects a dead coordinator.
//
// # Overview
//
// Every server runs one Node. All nodes are configured with the same set of
// addresses. The node with the greatest address string among those alive
// wins elections and becomes coordinator. Only the coordinator accepts
// writes; every node answers reads from its own copy of the table.
//
//	          client
//	            │ create / modify / delete
//	            ▼
//	┌──────────────────────┐   Replicate(entry, previous)   ┌──────────────┐
//	│     coordinator      │ ─────────────────────────────▶ │   follower   │
//	│  table  log  clock   │ ◀───────────────────────────── │ table  clock │
//	└──────────────────────┘   Ping(lastApplied)             └──────────────┘
//	            ▲               RequestSync(since)
//	            └──────────────────────────────────────────────────┘
//
// # Write Path
//
// A write on the coordinator:
//  1. Ticks the clock for the received request
//  2. Stamps the action with a fresh unique ID, creator address and time
//  3. Validates and applies it to the table
//  4. Ticks the clock again; that value is the action's timestamp
//  5. Appends it to the bounded action log and records it as last applied
//  6. Pushes it with the previous last-applied timestamp to every live peer
//
// Writes on any other node return NotCoordinator with the known coordinator
// address, so clients can retry there.
//
// # Catch-up
//
// A follower compares the previous timestamp carried by a replicated action
// with its own last-applied timestamp. On a mismatch it syncs first. The
// coordinator answers a sync request with one of:
//
//	UpToDate  since equals the coordinator's last-applied timestamp
//	Tail      the logged actions after since, oldest first
//	Snapshot  the whole table, when since is no longer in the log
//
// A new coordinator starts a fresh epoch: it clears its log and advances its
// last-applied timestamp, so every follower's next ping or replicated action
// ends in a snapshot.
//
// # Election
//
// Elections run on a single goroutine fed by an event channel:
//
//	idle ──start──▶ electing ──timeout, no response──▶ coordinator
//	                   │
//	                   ├──response from stronger node──▶ follower (unknown)
//	                   └──victory from any node───────▶ follower (winner)
//
// Before taking the role a winner syncs from the coordinator it last
// followed, or from the one its peers report, so writes acknowledged by the
// old coordinator survive.
//
// # Heartbeat
//
// Followers ping the coordinator every heartbeat interval. A failed ping
// starts an election at once. A follower that lost an election but never
// heard the winner starts a new one after two heartbeats.
//
// # Fatal Conditions
//
// A peer message from an address that is not configured, or a coordinator
// being asked to sync from another node, means the cluster is misconfigured
// and ends the process.
package coordinator
