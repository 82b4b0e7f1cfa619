// Package cli is the node's interactive console.
//
// The console reads commands from a line-oriented REPL and turns them into
// orchestrator commands: back up the documents to a peer, retrieve the backup
// into quarantine, decrypt it over the documents, show the bookkeeping, check
// which peers answer, and import or export documents as JSON. Passwords are
// read without echo and turned into a backup secret before they leave the
// console.
package cli
