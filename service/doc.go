// Package service is the exchange: it owns every symbol's order book,
// market data, dealer inventory and spread config, and is the only write
// path into them.
//
// Each symbol has its own lock, so passes on different symbols run in
// parallel while passes on one symbol are strictly sequential. Commands
// are journaled before they mutate anything; a rejected command leaves
// no trace.
package service
