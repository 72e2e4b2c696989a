// Package directory holds the login identity table every replica keeps a
// full copy of.
//
// The table indexes records by login name and by unique id. Writes
// (Create, Modify, Delete) validate and mutate under one lock so the
// existence check and the change cannot interleave with another write.
// Validation order is fixed and the first failure wins:
//
//	Create: name free                                  else ErrNameCollision
//	Modify: old name exists, credential matches,       else ErrNoSuchUser,
//	        new name free                                   ErrIncorrectCredential,
//	                                                        ErrNameCollision
//	Delete: name exists, credential matches            else ErrNoSuchUser,
//	                                                        ErrIncorrectCredential
//
// The table never generates ids or timestamps itself. The coordinator stamps
// them into the replicated action, and every replica stores the same values.
//
// Errors are wrapped with context; compare them with errors.Is:
//
//	if _, err := table.Lookup("alice"); errors.Is(err, directory.ErrNoSuchUser) {
//	    ...
//	}
package directory
