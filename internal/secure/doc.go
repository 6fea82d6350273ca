// Package secure provides memory-safe storage for in-process secret
// material: token signing keys and credential hashes held by the
// degraded-mode cache. Values live in memguard enclaves, encrypted at
// rest in memory and protected from swapping via mlock.
package secure
