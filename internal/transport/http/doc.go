// Package http contains the HTTP transport layer for licguard: the public
// verification endpoint, the password-protected admin surface and the health
// and status endpoints. Handlers normalize wire formats, delegate to the
// engine and the registry, and render responses with go-chi/render.
package http
