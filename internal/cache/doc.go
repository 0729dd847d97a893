// Package cache defines the asset cache record and the repository that maps
// it onto the persistent store. The repository is deliberately best-effort:
// lookups degrade to a miss and writes are logged and dropped when storage
// misbehaves, so a working fetch never fails because of the cache. Proxy
// components depend on this package for hit/fill decisions; diagnostic and
// reset surfaces use ListAll/ClearAll.
package cache
