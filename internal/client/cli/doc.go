// Package cli provides the interactive RentKeeper command-line client.
//
// It wires configuration, the encrypted local credential store, the API
// client and a small REPL. Typical flow: register or log in, then call
// protected commands; expired access credentials are renewed transparently.
//
// The REPL is started via App.Run(ctx), which blocks until the user exits.
package cli
