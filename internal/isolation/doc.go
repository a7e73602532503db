// Package isolation controls which symbols an action can link against.
//
// The worker process knows a Catalog of named symbols. A flat Structure
// exposes the whole catalog. A hierarchical Structure describes a chain of
// loaders rooted at the bootstrap loader; filter loaders forward only
// allow-listed names to their parent and module loaders add the symbols of
// their own modules. Requests for symbols outside the visible set fail with a
// LinkageError.
package isolation
