// Package statemachine holds the data model shared by every sub-machine of
// the core: chain state, channel state, transfer tasks, and the primitive
// types (amounts, identifiers, locks) that the rest of the module builds on.
//
// Nothing in this package performs I/O. The only place a mutation is
// committed is the return value of chain.Transition.
package statemachine
