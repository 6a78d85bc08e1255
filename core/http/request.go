package http

import (
	"bytes"
	"context"
	"net/textproto"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/net/http/httpguts"

	"github.com/searchktools/tinyweb/core/buffer"
)

// State is the position of a Request in its parse state machine
type State uint8

const (
	StateRequestLine State = iota
	StateHeaders
	StateBody
	StateFinished
)

const (
	// maxLineSize bounds a request or header line still missing its CRLF
	maxLineSize = 8 * 1024
	// maxBodySize bounds the declared Content-Length
	maxBodySize = 8 * 1024 * 1024
)

var crlf = []byte("\r\n")

// Short page names that are served with an .html suffix
var defaultHTML = map[string]struct{}{
	"/index":    {},
	"/register": {},
	"/login":    {},
	"/welcome":  {},
	"/video":    {},
	"/picture":  {},
}

// Form endpoints that go through the credential store
const (
	pathRegister = "/register.html"
	pathLogin    = "/login.html"
	pathWelcome  = "/welcome.html"
	pathError    = "/error.html"
)

// Authenticator is the credential store consulted by the login and
// register endpoints. Both calls may block on a pooled resource.
type Authenticator interface {
	Verify(ctx context.Context, name, password string) (bool, error)
	Register(ctx context.Context, name, password string) (bool, error)
}

// Request is an incrementally parsed HTTP/1.1 request
type Request struct {
	state   State
	method  string
	path    string
	version string
	header  map[string]string
	body    string
	form    map[string]string

	auth Authenticator
	log  zerolog.Logger
}

// NewRequest creates a request parser. auth may be nil, in which case
// every login and registration fails.
func NewRequest(auth Authenticator, log zerolog.Logger) *Request {
	r := &Request{
		auth:   auth,
		log:    log,
		header: make(map[string]string),
		form:   make(map[string]string),
	}
	return r
}

// Reset prepares the request for the next message on the same connection
func (r *Request) Reset() {
	r.state = StateRequestLine
	r.method = ""
	r.path = ""
	r.version = ""
	r.body = ""
	clear(r.header)
	clear(r.form)
}

// Parse consumes complete lines from buf and advances the state machine.
// A trailing partial line stays in buf for the next call.
func (r *Request) Parse(ctx context.Context, buf *buffer.Buffer) ParseStatus {
	for r.state != StateFinished {
		if r.state == StateBody {
			return r.parseBody(ctx, buf)
		}

		data := buf.Peek()
		end := bytes.Index(data, crlf)
		if end < 0 {
			if len(data) > maxLineSize {
				return ParseBadRequest
			}
			return ParseIncomplete
		}
		line := string(data[:end])
		buf.Retrieve(end + len(crlf))

		switch r.state {
		case StateRequestLine:
			if line == "" {
				// stray CRLF between pipelined requests
				continue
			}
			if !r.parseRequestLine(line) {
				r.log.Debug().Str("line", line).Msg("RequestLine error")
				return ParseBadRequest
			}
			r.parsePath()
			r.state = StateHeaders
		case StateHeaders:
			if line == "" {
				if r.hasBody() {
					r.state = StateBody
				} else {
					r.state = StateFinished
				}
				continue
			}
			if !r.parseHeader(line) {
				r.log.Debug().Str("line", line).Msg("Header error")
				return ParseBadRequest
			}
		}
	}
	return ParseOK
}

// parseRequestLine matches "METHOD SP PATH SP HTTP/VERSION"
func (r *Request) parseRequestLine(line string) bool {
	method, rest, ok := strings.Cut(line, " ")
	if !ok || method == "" {
		return false
	}
	path, proto, ok := strings.Cut(rest, " ")
	if !ok || path == "" || strings.Contains(proto, " ") {
		return false
	}
	version, ok := strings.CutPrefix(proto, "HTTP/")
	if !ok || version == "" {
		return false
	}
	r.method, r.path, r.version = method, path, version
	return true
}

// parsePath maps "/" to the index page and completes the short page names.
// Anything else, including paths containing "..", is left as sent.
func (r *Request) parsePath() {
	if r.path == "/" {
		r.path = "/index.html"
		return
	}
	if _, ok := defaultHTML[r.path]; ok {
		r.path += ".html"
	}
}

func (r *Request) parseHeader(line string) bool {
	key, value, ok := strings.Cut(line, ":")
	if !ok || !httpguts.ValidHeaderFieldName(key) {
		return false
	}
	value = strings.TrimPrefix(value, " ")
	r.header[textproto.CanonicalMIMEHeaderKey(key)] = value
	return true
}

func (r *Request) hasBody() bool {
	switch r.method {
	case "POST", "PUT", "PATCH":
		return true
	}
	return false
}

func (r *Request) parseBody(ctx context.Context, buf *buffer.Buffer) ParseStatus {
	n := buf.ReadableBytes()
	if cl, ok := r.header["Content-Length"]; ok {
		length, err := strconv.Atoi(strings.TrimSpace(cl))
		if err != nil || length < 0 || length > maxBodySize {
			return ParseBadRequest
		}
		if n < length {
			return ParseIncomplete
		}
		n = length
	}

	r.body = string(buf.Peek()[:n])
	buf.Retrieve(n)
	r.parsePost(ctx)
	r.state = StateFinished
	r.log.Debug().Int("len", n).Msg("Body parsed")
	return ParseOK
}

func (r *Request) parsePost(ctx context.Context) {
	if r.method != "POST" || !isFormContent(r.header["Content-Type"]) {
		return
	}
	r.form = parseURLEncoded(r.body)

	if r.path != pathLogin && r.path != pathRegister {
		return
	}
	if r.userVerify(ctx, r.form["username"], r.form["password"], r.path == pathLogin) {
		r.path = pathWelcome
	} else {
		r.path = pathError
	}
}

func (r *Request) userVerify(ctx context.Context, name, password string, isLogin bool) bool {
	if r.auth == nil || name == "" || password == "" {
		return false
	}

	var (
		ok  bool
		err error
	)
	if isLogin {
		ok, err = r.auth.Verify(ctx, name, password)
	} else {
		ok, err = r.auth.Register(ctx, name, password)
	}
	if err != nil {
		r.log.Error().Err(err).Str("user", name).Bool("login", isLogin).Msg("credential store failure")
		return false
	}
	r.log.Debug().Str("user", name).Bool("login", isLogin).Bool("ok", ok).Msg("UserVerify")
	return ok
}

// IsKeepAlive reports whether the client asked to reuse the connection.
// Only HTTP/1.1 with "Connection: keep-alive" exactly qualifies.
func (r *Request) IsKeepAlive() bool {
	return r.version == "1.1" && r.header["Connection"] == "keep-alive"
}

// State returns the current parse state
func (r *Request) State() State {
	return r.state
}

// Method returns the request method
func (r *Request) Method() string {
	return r.method
}

// Path returns the resolved request path
func (r *Request) Path() string {
	return r.path
}

// Version returns the protocol version without the "HTTP/" prefix
func (r *Request) Version() string {
	return r.version
}

// Header returns a request header by name
func (r *Request) Header(key string) string {
	return r.header[textproto.CanonicalMIMEHeaderKey(key)]
}

// Body returns the request body
func (r *Request) Body() string {
	return r.body
}

// Form returns a decoded form field
func (r *Request) Form(key string) string {
	return r.form[key]
}
