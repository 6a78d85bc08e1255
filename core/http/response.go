package http

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/searchktools/tinyweb/core/buffer"
)

var codeStatus = map[int]string{
	200: "OK",
	400: "Bad Request",
	403: "Forbidden",
	404: "Not Found",
	500: "Internal Server Error",
}

// shipped error pages, relative to the document root
var codePath = map[int]string{
	400: "/400.html",
	403: "/403.html",
	404: "/404.html",
}

// Response builds the status line, headers and body reference for one request.
// The file body is memory-mapped and handed out via File; it is never copied.
type Response struct {
	code      int
	keepAlive bool
	path      string
	srcDir    string
	idle      time.Duration

	file *MappedFile

	log zerolog.Logger
}

// NewResponse creates a response builder
func NewResponse(log zerolog.Logger) *Response {
	return &Response{log: log}
}

// Init prepares the response for path under srcDir. A code of 0 lets the
// builder decide; any other code is forced and skips the lookup of path.
func (r *Response) Init(srcDir, path string, keepAlive bool, code int) {
	r.UnmapFile()
	r.srcDir = srcDir
	r.path = path
	r.keepAlive = keepAlive
	r.code = code
}

// SetIdleTimeout sets the timeout advertised in the Keep-Alive header
func (r *Response) SetIdleTimeout(d time.Duration) {
	r.idle = d
}

// MakeResponse writes the status line and headers, and the body when it
// is synthesized, into buf.
func (r *Response) MakeResponse(buf *buffer.Buffer) {
	r.resolve()

	var body string
	file, err := MapFile(r.srcDir + r.path)
	switch {
	case err == nil:
		r.file = file
	case errors.Is(err, fs.ErrNotExist):
		// the error page itself is missing
		if r.code == 200 {
			r.code = 404
		}
		body = r.errorContent("File NotFound!")
	default:
		r.log.Error().Err(err).Str("path", r.path).Msg("map file failed")
		r.code = 500
		body = r.errorContent("Internal Server Error")
	}

	r.addStateLine(buf)
	if r.file != nil {
		r.addHeader(buf, ContentType(r.path), r.file.Len())
		return
	}
	r.addHeader(buf, "text/html", int64(len(body)))
	buf.AppendString(body)
}

// resolve decides the status code and swaps in the matching error page.
// The page is substituted once; its own lookup happens in MakeResponse.
func (r *Response) resolve() {
	if r.code == 0 {
		info, err := os.Stat(r.srcDir + r.path)
		switch {
		case err != nil:
			r.code = 404
		case !info.Mode().IsRegular() || info.Mode().Perm()&0o004 == 0:
			r.code = 403
		default:
			r.code = 200
		}
	}
	if page, ok := codePath[r.code]; ok {
		r.path = page
	}
}

func (r *Response) addStateLine(buf *buffer.Buffer) {
	status, ok := codeStatus[r.code]
	if !ok {
		r.code = 400
		status = codeStatus[400]
	}
	buf.AppendString("HTTP/1.1 " + strconv.Itoa(r.code) + " " + status + "\r\n")
}

func (r *Response) addHeader(buf *buffer.Buffer, contentType string, length int64) {
	if r.keepAlive {
		buf.AppendString("Connection: keep-alive\r\n")
		// no idle timeout, nothing to advertise
		if r.idle > 0 {
			buf.AppendString("Keep-Alive: max=6, timeout=" + strconv.Itoa(int(r.idle/time.Second)) + "\r\n")
		}
	} else {
		buf.AppendString("Connection: close\r\n")
	}
	buf.AppendString("Content-Type: " + contentType + "\r\n")
	buf.AppendString("Content-Length: " + strconv.FormatInt(length, 10) + "\r\n\r\n")
}

func (r *Response) errorContent(message string) string {
	status, ok := codeStatus[r.code]
	if !ok {
		status = codeStatus[400]
	}
	return "<html><title>Error</title>" +
		"<body bgcolor=\"ffffff\">" +
		strconv.Itoa(r.code) + " : " + status + "\n" +
		"<p>" + message + "</p>" +
		"<hr><em>tinyweb</em></body></html>"
}

// UnmapFile releases the mapped body. Safe to call when nothing is mapped.
func (r *Response) UnmapFile() {
	if r.file == nil {
		return
	}
	if err := r.file.Close(); err != nil {
		r.log.Warn().Err(err).Str("path", r.path).Msg("munmap failed")
	}
	r.file = nil
}

// File returns the mapped body, or nil
func (r *Response) File() []byte {
	return r.file.Bytes()
}

// FileLen returns the mapped body length
func (r *Response) FileLen() int64 {
	return r.file.Len()
}

// Code returns the resolved status code
func (r *Response) Code() int {
	return r.code
}

// Path returns the path actually served
func (r *Response) Path() string {
	return r.path
}

// KeepAlive reports whether the connection stays open after this response
func (r *Response) KeepAlive() bool {
	return r.keepAlive
}
