// Package registry implements a hierarchical registry of creator functions.
//
// A Node maps (result type, arity) to a creator. Creators take zero, one or
// two reflect.Type arguments and return one value, optionally followed by an
// error. Resolution looks in the local node first and falls back to the
// parent chain; a child can shadow a parent's creator but never modifies it.
// Nodes never cache the values their creators return.
package registry
