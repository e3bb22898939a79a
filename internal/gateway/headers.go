package gateway

import "net/http"

// securityHeaders is the fixed defensive header set added to every response,
// including early-exit rejections.
var securityHeaders = map[string]string{
	"X-Content-Type-Options":    "nosniff",
	"X-Frame-Options":           "DENY",
	"Strict-Transport-Security": "max-age=31536000; includeSubDomains",
	"Referrer-Policy":           "strict-origin-when-cross-origin",
}

// injectSecurityHeaders sets the defensive headers. It never overwrites a
// value the handler set explicitly.
func injectSecurityHeaders(h http.Header) {
	for name, value := range securityHeaders {
		if h.Get(name) == "" {
			h.Set(name, value)
		}
	}
}
