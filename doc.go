// Package vault is the public API of AxiomVault: an encrypted personal
// file vault backed by a pluggable object store. A Vault is created once
// against a store and a password (Create), and subsequently opened with
// the same password (Unlock). All file and directory names, and all file
// content, are encrypted before ever reaching the store; nothing an
// ObjectStore implementation sees reveals a cleartext path or byte.
//
// A Vault is not safe for concurrent use by multiple goroutines unless
// noted otherwise on a given method; open handles returned by Open are
// independent of one another but share the Vault's internal locking for
// directory mutations.
package vault
