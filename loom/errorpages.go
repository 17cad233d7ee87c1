package loom

import "strconv"

// Status constants trimmed to the codes this core actually emits
// (canned error bodies, redirects, and the 100-continue admin scenario).
const (
	StatusContinue           = 100
	StatusOK                 = 200
	StatusMovedPermanently   = 301
	StatusFound              = 302
	StatusSeeOther           = 303
	StatusBadRequest         = 400
	StatusUnauthorized       = 401
	StatusForbidden          = 403
	StatusRequestTimeout     = 408
	StatusProxyAuthRequired  = 407
	StatusInternalError      = 500
	StatusBadGateway         = 502
	StatusServiceUnavailable = 503
	StatusGatewayTimeout     = 504
)

var reasonPhrases = map[int]string{
	StatusContinue:           "Continue",
	StatusOK:                 "OK",
	StatusMovedPermanently:   "Moved Permanently",
	StatusFound:              "Found",
	StatusSeeOther:           "See Other",
	StatusBadRequest:         "Bad Request",
	StatusUnauthorized:       "Unauthorized",
	StatusForbidden:          "Forbidden",
	StatusRequestTimeout:     "Request Time-out",
	StatusProxyAuthRequired:  "Proxy Authentication Required",
	StatusInternalError:      "Internal Server Error",
	StatusBadGateway:         "Bad Gateway",
	StatusServiceUnavailable: "Service Unavailable",
	StatusGatewayTimeout:     "Gateway Time-out",
}

// ReasonPhrase returns the canned reason phrase for a status code this
// package emits, or "Unknown" for anything else.
func ReasonPhrase(code int) string {
	if r, ok := reasonPhrases[code]; ok {
		return r
	}
	return "Unknown"
}

var errorBodies = map[int]string{
	StatusBadRequest:         "<html><body><h1>400 Bad Request</h1>\nYour browser sent an invalid request.\n</body></html>\n",
	StatusForbidden:          "<html><body><h1>403 Forbidden</h1>\nRequest forbidden by administrative rules.\n</body></html>\n",
	StatusRequestTimeout:     "<html><body><h1>408 Request Time-out</h1>\nYour browser didn't send a complete request in time.\n</body></html>\n",
	StatusInternalError:      "<html><body><h1>500 Internal Server Error</h1>\nAn internal error occurred.\n</body></html>\n",
	StatusBadGateway:         "<html><body><h1>502 Bad Gateway</h1>\nThe server returned an invalid or incomplete response.\n</body></html>\n",
	StatusServiceUnavailable: "<html><body><h1>503 Service Unavailable</h1>\nNo server is available to handle this request.\n</body></html>\n",
	StatusGatewayTimeout:     "<html><body><h1>504 Gateway Time-out</h1>\nThe server didn't respond in time.\n</body></html>\n",
}

// BuildErrorResponse renders one of the canned HTTP-level error responses
// names (200/400/403/408/500/502/503/504 plus 401/407 with a
// realm), always terminated by "Connection: close" per §6's contract that
// every canned error closes the connection. These bodies are synthesized
// directly as a byte-slice builder rather than grown inside a live
// response ring, since they never need to survive a partial write.
func BuildErrorResponse(code int, realm string) []byte {
	reason := ReasonPhrase(code)
	body := errorBodies[code]
	var extra string
	switch code {
	case StatusUnauthorized:
		body = "<html><body><h1>401 Unauthorized</h1>\nYou need valid credentials to access this resource.\n</body></html>\n"
		extra = "WWW-Authenticate: Basic realm=\"" + realm + "\"\r\n"
	case StatusProxyAuthRequired:
		body = "<html><body><h1>407 Proxy Authentication Required</h1>\nYou need valid credentials to access this resource.\n</body></html>\n"
		extra = "Proxy-Authenticate: Basic realm=\"" + realm + "\"\r\n"
	}
	out := "HTTP/1.1 " + strconv.Itoa(code) + " " + reason + "\r\n"
	out += "Content-Type: text/html\r\n"
	out += "Content-Length: " + strconv.Itoa(len(body)) + "\r\n"
	out += extra
	out += "Connection: close\r\n\r\n"
	out += body
	return []byte(out)
}

// BuildContinueResponse renders the bare "100 Continue" line required
// before a request body with "Expect: 100-continue" is read.
func BuildContinueResponse() []byte {
	return []byte("HTTP/1.1 100 Continue\r\n\r\n")
}

// RedirectOptions configures BuildRedirectResponse; KeepAlive controls
// whether it emits "Connection: keep-alive" or "Connection: close".
type RedirectOptions struct {
	Code      int // 301, 302, or 303
	Location  string
	SetCookie string // rendered verbatim as one Set-Cookie header if non-empty
	KeepAlive bool
}

// BuildRedirectResponse renders a 301/302/303 redirect in the fixed shape
// "HTTP/1.1 <code> <reason>\r\nCache-Control:
// no-cache\r\nContent-length: 0\r\nLocation: <built>\r\n" with an optional
// Set-Cookie and either Connection: keep-alive or Connection: close.
// The Location header is built by string concatenation rather than a
// URL-building library, since its shape is fixed and small.
func BuildRedirectResponse(opts RedirectOptions) []byte {
	out := "HTTP/1.1 " + strconv.Itoa(opts.Code) + " " + ReasonPhrase(opts.Code) + "\r\n"
	out += "Cache-Control: no-cache\r\n"
	out += "Content-length: 0\r\n"
	out += "Location: " + opts.Location + "\r\n"
	if opts.SetCookie != "" {
		out += "Set-Cookie: " + opts.SetCookie + "\r\n"
	}
	if opts.KeepAlive {
		out += "Connection: keep-alive\r\n\r\n"
	} else {
		out += "Connection: close\r\n\r\n"
	}
	return []byte(out)
}

// BuildRequestTarget applies ActionRedirect's AppendSlash/DropQuery
// options to a request's path+query before it is used as a Location,
// matching the rule engine's ActionRedirect parameters in rules.go.
func BuildRequestTarget(path, query string, appendSlash, dropQuery bool) string {
	target := path
	if appendSlash && (len(target) == 0 || target[len(target)-1] != '/') {
		target += "/"
	}
	if !dropQuery && query != "" {
		target += "?" + query
	}
	return target
}
