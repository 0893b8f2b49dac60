// Package scope provides structured-concurrency execution scopes for Go.
// A scope is a lifetime boundary around a dynamic group of concurrent
// tasks: every task submitted to a scope is joined or cancelled before
// the scope closes. Scopes optionally bound how many tasks run at once
// (excess submissions start later, strictly in submission order) and
// carry a wall-clock timeout that cancels the whole group.
package scope
