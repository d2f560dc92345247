// Package offline keeps remote media assets on local disk for offline playback.
// A JSON manifest under the application data directory maps each asset key to
// its local file, size and download time. Downloads stream into a temp file and
// are renamed into place before the manifest record is committed, manifest
// mutations are serialized through a single lock, and concurrent downloads of
// the same key share one fetch. Read paths always cross-check the filesystem:
// a record whose file has disappeared is reported as unavailable.
package offline
