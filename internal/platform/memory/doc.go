// Package memory provides mutex-guarded, process-local implementations of the
// store interfaces. Values are copied in and out so callers never share state
// with the store.
package memory
