// Package testutil provides deterministic embedding fixtures for tests,
// benchmarks, and example programs.
package testutil
