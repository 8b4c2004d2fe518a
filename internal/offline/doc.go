// Package offline lets door staff validate tickets with no connectivity.
//
// A Store holds, per event, the downloaded allowlist (keyed hashes only, never
// raw tokens), the event secret and the set of hashes consumed on this device.
// Validator decides valid / invalid / already_scanned / no_allowlist and
// records each accepted scan in the pending queue within the same SQLite
// transaction that marks the hash consumed. Queue uploads those scans once
// the device is back online.
//
// Two devices holding the same allowlist can each accept one ticket while
// offline: duplicate detection across devices needs the server and happens
// when the pending scans are synced. This is an accepted limitation.
package offline
