// Package persist saves the identity table to durable storage and restores
// it at startup.
//
// The table is written whole, one JSON value per record under "rec/<login
// name>", replacing the previous save atomically. Saved state that is
// missing or fails validation is ignored and the node starts empty; replicas
// fill it back in from the coordinator.
//
// Two stores are provided:
//
//	BadgerStore  embedded badger database in the configured data directory
//	MemoryStore  in-process map, when no data directory is configured
package persist
