// Package storage provides the local key-value storage interface and its
// in-memory implementation. A store backs a single node; it knows nothing
// about routing or replication.
package storage
