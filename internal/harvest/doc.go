// Package harvest implements the resumable batch download engine. A Harvester
// walks a collection's items in order, fetching one at a time with a paced
// delay, recording each completed item in a durable ledger, and emitting the
// accumulated text as numbered artifacts every batch. Interrupted runs resume
// from the ledger; a manual checkpoint can emit the buffered text at any time.
package harvest
