// Package server hosts the Fiber HTTP service that exposes the offline cache
// command surface to the desktop shell. It owns the middleware chain (panic
// recovery, request ids, access logging, JSON error rendering) and the shared
// http.Client used to fetch remote assets. Route handlers live in the routes
// subpackage and receive their dependencies explicitly.
package server
