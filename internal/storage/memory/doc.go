// Package memory provides in-process implementations of the harvest
// persistence contracts for development, dry runs, and tests.
package memory
