package manifest

import (
	"encoding/json"
	"net/http"
)

// ServerDefinedHeadersKey carries a JSON object of extra headers the server
// wants echoed back on the next manifest request
const ServerDefinedHeadersKey = "Updates-Server-Defined-Headers"

// ValidationTokens extracts the conditional-request headers to send with the
// next manifest fetch from a manifest response. Returns nil when the response
// carries none.
func ValidationTokens(h http.Header) map[string]string {
	tokens := map[string]string{}
	if etag := h.Get("ETag"); etag != "" {
		tokens["If-None-Match"] = etag
	}
	if lm := h.Get("Last-Modified"); lm != "" {
		tokens["If-Modified-Since"] = lm
	}
	if raw := h.Get(ServerDefinedHeadersKey); raw != "" {
		var extra map[string]interface{}
		if err := json.Unmarshal([]byte(raw), &extra); err == nil {
			for k, v := range extra {
				if s, ok := v.(string); ok {
					tokens[http.CanonicalHeaderKey(k)] = s
				}
			}
		}
	}
	if len(tokens) == 0 {
		return nil
	}
	return tokens
}
