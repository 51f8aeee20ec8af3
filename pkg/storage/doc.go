// Package storage uploads local directory trees and artifacts to the object store.
//
// UploadTree walks a directory, attaches metadata from the first matching Rule
// over a no-cache baseline, and uploads files in parallel. SyncSite runs two
// UploadTree passes so HTML pages are uploaded only after every other asset.
package storage
