// Package snapshot writes and loads point-in-time images of exchange
// state. A snapshot taken at sequence N plus the journal after N rebuilds
// the exchange exactly.
package snapshot
