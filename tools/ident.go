// Package tools defines the tool descriptor, request/result, and idempotency
// primitives shared by the Tool Executor (toolexec) and Tool Queue
// (toolqueue). Tool identifiers are globally unique strings of the form
// "<server>.<name>".
package tools

import "fmt"

// Ident is a globally unique tool identifier, e.g. "calculator.add" or
// "github.search_issues".
type Ident string

// String implements fmt.Stringer.
func (i Ident) String() string { return string(i) }

// NewIdent builds a canonical identifier from a server ID and a tool name.
func NewIdent(serverID, name string) Ident {
	if serverID == "" {
		return Ident(name)
	}
	return Ident(fmt.Sprintf("%s.%s", serverID, name))
}
