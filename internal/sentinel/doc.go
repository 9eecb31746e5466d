// Package sentinel defines a string-backed error type so that shmstack's
// sentinel errors can be declared as constants rather than package variables.
// Constant errors cannot be reassigned by importers and still compare equal
// under errors.Is through any number of fmt.Errorf("%w") wrappers.
package sentinel
