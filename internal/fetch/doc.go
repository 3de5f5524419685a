// Package fetch implements the remote browser fetch proxy.
//
// A Proxy takes a caller supplied fetch command, a JavaScript expression that
// resolves to a response-like object, navigates a page of an externally
// managed browser to the referrer named inside the command and evaluates the
// command in that page's realm. Every outcome is reported as a
// ResponseEnvelope; Execute never returns an error.
//
// Security: the command text is evaluated verbatim inside a live browser page
// with whatever cookies and origin that page holds. Nothing here validates,
// restricts or sandboxes it. Expose the proxy only to trusted callers.
package fetch
