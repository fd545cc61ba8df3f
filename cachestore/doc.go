// TTL cache for resolved platform data (guild member roles and flags), stored as JSON strings.
//
// Authorization resolves the invoking member on every command and template call. Caching the
// member for a short TTL keeps those checks off the platform's REST rate limits.
package cachestore
