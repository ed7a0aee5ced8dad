// Package kvstore defines the minimal persistent-store contract the core
// depends on: get/put/delete by key, TTL on put, cursor-paginated prefix
// listing, and two conditional write primitives (create-if-absent and
// compare-and-swap). The Redis implementation is the production backend;
// components must not reach past this interface.
package kvstore
