// Package commands defines the securemsg CLI and wires dependencies for subcommands.
//
// Commands
//
//   - serve                  Run the loopback key agent for a local UI
//   - verify                 Audit the store for plaintext or private key material
//   - keys status            Show whether a user has no, legacy or derived keys
//   - keys init              Create password-derived keys for a new user
//   - keys derive            Re-derive a user's keys and check them against the store
//   - keys migrate           Replace a legacy key pair with a password-derived one
//   - keys provision-legacy  Create a random legacy key pair (pre-migration accounts)
//   - conversation create    Start a conversation between users that have keys
//   - message send|read      Encrypt and store, or load and decrypt, messages
//
// # Implementation
//
// The root command loads the configuration and opens the database before any
// subcommand runs, so handlers share one app with its repositories and services.
package commands
