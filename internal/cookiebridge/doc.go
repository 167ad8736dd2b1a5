// Package cookiebridge implements the loopback HTTP endpoint a browser
// extension uses to push authentication cookies into the running process.
//
// A Bridge serves exactly one request shape:
//
//	POST /cookies
//	{"cookies":[{"name":"sid","value":"abc"},{"name":"theme","value":"dark"}]}
//
// Valid entries (non-empty name, non-null value) are joined in payload order
// into a Cookie header value ("sid=abc; theme=dark"). The newest header
// replaces the previous one and is handed to every subscriber, in
// registration order, on the goroutine that served the request.
//
// Responses:
//
//	200 "ok"  structurally valid payload (even if no entry survived filtering)
//	400       empty body, malformed JSON, missing or empty "cookies"
//	404       any other method or path
//	500       unexpected fault while serving the request
//
// Lifecycle:
//
//	b := cookiebridge.New()
//	sub := b.Subscribe(func(header string) { ... })
//	defer sub.Unsubscribe()
//	if err := b.Start(0); err != nil { // 0 selects DefaultPort
//	    // bridge stays inactive, the host keeps running
//	}
//	defer b.Stop()
//
// Start and Stop are idempotent and safe to call concurrently. Stop closes
// the listener and joins the accept loop but lets already accepted requests
// finish; Shutdown additionally waits for them.
package cookiebridge
