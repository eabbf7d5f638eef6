// Package dynamo provides the core primitives shared by every solver
// in the module.
//
// The package defines the evaluator contract and error taxonomy:
//
//   - [State]: vector representing system state
//   - [System]: parameterized vector field or map with derivatives
//   - [SystemKind]: flow vs. iterated map
//   - [Error]: message-carrying error with a matchable kind
//
// # Thread Safety
//
// System implementations carry mutable parameter values and are NOT
// thread-safe. Solvers that vary a parameter use [WithParam], which
// restores the previous value before returning; callers that share a
// System across goroutines must clone it first.
package dynamo
