// Package schema validates the externalized shopping session payload.
//
// The session travels between stateless calls as JSON. Before a payload is
// trusted it is checked against an embedded JSON Schema and its version is
// matched against the supported range:
//
//	if err := schema.CheckSession(data); err != nil {
//	    return err
//	}
//	if err := schema.CheckVersion(version); err != nil {
//	    return err
//	}
//
// Both checks fail with a contracts.ErrValidation error.
package schema
