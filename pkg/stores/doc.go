// Package stores provides the local deployment journal. It records every
// deploy, update and destroy invocation, the stack events observed while it
// ran, and the function bundles already uploaded to each bucket.
//
// The journal is a SQLite database opened with the pure-Go modernc driver and
// migrated from embedded SQL files on startup.
package stores
