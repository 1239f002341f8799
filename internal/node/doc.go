// Package node defines the storage node contract consumed by the coordinator
// and its implementations: an in-process node backed by a storage.Store and a
// remote node reached over gRPC.
//
// The wire service uses protobuf well-known wrapper types, so no generated
// code is needed. The key of a Put travels in request metadata.
package node
