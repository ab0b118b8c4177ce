package cache

import (
	"bytes"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Response is the stored snapshot of an upstream response.
type Response struct {
	Status   int         `json:"status"`
	Header   http.Header `json:"header"`
	Body     []byte      `json:"body"`
	StoredAt time.Time   `json:"stored_at"`
}

// OK reports whether the snapshot carries a 2xx status.
func (r Response) OK() bool {
	return r.Status >= 200 && r.Status < 300
}

// Size approximates the bytes the snapshot occupies in a store.
func (r Response) Size() int {
	n := len(r.Body)
	for k, values := range r.Header {
		n += len(k)
		for _, v := range values {
			n += len(v)
		}
	}
	return n
}

// HTTPResponse materialises the snapshot as a fresh *http.Response for req.
func (r Response) HTTPResponse(req *http.Request) *http.Response {
	header := r.Header.Clone()
	if header == nil {
		header = make(http.Header)
	}
	header.Set("Content-Length", strconv.Itoa(len(r.Body)))
	return &http.Response{
		Status:        strconv.Itoa(r.Status) + " " + http.StatusText(r.Status),
		StatusCode:    r.Status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(r.Body)),
		ContentLength: int64(len(r.Body)),
		Request:       req,
	}
}

// Snapshot reads resp fully into a Response and rewinds resp.Body so the
// caller can still deliver it.
func Snapshot(resp *http.Response, now time.Time) (Response, error) {
	var body []byte
	if resp.Body != nil {
		var err error
		body, err = io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return Response{}, err
		}
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))
	return Response{
		Status:   resp.StatusCode,
		Header:   resp.Header.Clone(),
		Body:     body,
		StoredAt: now.UTC(),
	}, nil
}

// Key normalises a (method, URL) pair into the identity used by every store.
// Scheme and host are lowercased, default ports and fragments dropped.
func Key(method string, u *url.URL) string {
	if u == nil {
		return strings.ToUpper(method) + " "
	}
	n := *u
	n.Fragment = ""
	n.RawFragment = ""
	n.Scheme = strings.ToLower(n.Scheme)
	host := strings.ToLower(n.Host)
	if (n.Scheme == "http" && strings.HasSuffix(host, ":80")) || (n.Scheme == "https" && strings.HasSuffix(host, ":443")) {
		host = host[:strings.LastIndex(host, ":")]
	}
	n.Host = host
	if n.Path == "" {
		n.Path = "/"
	}
	return strings.ToUpper(method) + " " + n.String()
}
