package fastcgi

import (
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"fastfcgi/fastcgi/httpbody"
)

// State is a request's position in the role-gated phase sequence.
type State int

const (
	StateParams State = iota
	StateIn
	StateData
	StateOut
	StateDone
)

func (s State) String() string {
	switch s {
	case StateParams:
		return "Params"
	case StateIn:
		return "In"
	case StateData:
		return "Data"
	case StateOut:
		return "Out"
	case StateDone:
		return "Done"
	default:
		return "Unknown"
	}
}

// ResponseHandler is the one required hook of a request's polymorphic hook
// set: invoked once the request enters the Out state, and again for
// every subsequent non-protocol message if it returns false. A false return
// suspends the request until Request.Callback delivers the next message; a
// true return finalises it.
type ResponseHandler interface {
	Response(r *Request, msg Message) bool
}

// ParamsFilter is the optional hook deciding, per decoded PARAMS pair,
// whether it is retained in Request.Envs. If a handler does not implement
// it, every pair is retained.
type ParamsFilter interface {
	ParamsHandler(r *Request, name, value string) bool
}

// InReader is the optional hook called after every STDIN chunk, with a
// final call carrying a nil slice once the stream terminates.
type InReader interface {
	InHandler(r *Request, b []byte)
}

// DataReader is the optional hook called after every FCGI_DATA chunk
// (Filter role only), analogously to InReader.
type DataReader interface {
	DataHandler(r *Request, b []byte)
}

var (
	hostOnce sync.Once
	hostname string
)

func localHostname() string {
	hostOnce.Do(func() {
		h, err := os.Hostname()
		if err != nil {
			h = "localhost"
		}
		hostname = h
	})
	return hostname
}

// Request is the per-connection, per-request-id state machine:
// it owns the request's output streams, its decoded environment and
// form data, and its message queue, and dispatches every inbound record
// through the Params -> In -> Data -> Out -> Done phase sequence.
type Request struct {
	id       FullID
	t        *Transceiver
	role     Role
	keepConn bool
	state    State

	hooks  interface{}
	notify func()
	queue  messageQueue
	log    logrus.FieldLogger

	Out *Stream
	Err *Stream

	Envs    *EnvMap
	Gets    *httpbody.MultiMap
	Posts   *PostMap
	MMPosts *PostMap
	Cookies *httpbody.CookieSet

	paramBuf   []byte
	urlValues  *httpbody.MultiMap
	urlDecoder *httpbody.URLDecoder
	multipart  *httpbody.MultipartParser

	appStatus int32
}

// NewRequest constructs a request bound to id over t, in the given role,
// backed by hooks (which must implement at least ResponseHandler). notify,
// supplied by the manager, is called whenever Callback pushes a message, so
// the manager can requeue this request's id and wake the transceiver.
func NewRequest(t *Transceiver, id FullID, role Role, keepConn bool, hooks interface{}, notify func()) *Request {
	return &Request{
		id:       id,
		t:        t,
		role:     role,
		keepConn: keepConn,
		state:    StateParams,
		hooks:    hooks,
		notify:   notify,
		Out:      newStream(t, id, TypeStdout),
		Err:      newStream(t, id, TypeStderr),
		Envs:     NewEnvMap(),
		Gets:     httpbody.NewMultiMap(),
		Posts:    NewPostMap(),
		MMPosts:  NewPostMap(),
		Cookies:  httpbody.NewCookieSet(),
	}
}

// SetLogger binds the logger the request uses for the manager-level
// diagnostic event emitted alongside every caught request-local error.
// Optional: a request with no logger still finalises the request
// correctly, it simply skips the operational log line.
func (r *Request) SetLogger(log logrus.FieldLogger) { r.log = log }

// ID returns the request's connection/request-id pair.
func (r *Request) ID() FullID { return r.id }

// Role returns the role the front-end assigned this request.
func (r *Request) Role() Role { return r.role }

// State returns the request's current phase.
func (r *Request) State() State { return r.state }

// Callback pushes msg onto the request's message queue from any goroutine
// and notifies the manager, waking the I/O goroutine if it is asleep.
// msg.Type must be non-zero: zero is reserved for protocol records
// reassembled by the transceiver.
func (r *Request) Callback(msg Message) {
	r.queue.push(msg)
	if r.notify != nil {
		r.notify()
	}
}

// pushProtocol is called by the manager with a freshly reassembled
// protocol record (Message.Type == 0, Payload including the 8-byte
// header); it is never called from outside the manager's I/O goroutine's
// own call graph at enqueue time, so it may push directly onto the queue
// without a separate notify (the manager already knows to schedule a
// handler call for this id).
func (r *Request) pushProtocol(msg Message) {
	r.queue.push(msg)
}

// Handler pops and processes exactly one queued message, returning true
// once the request has finalised. Called by the manager once per task
// dequeue naming this request's id.
func (r *Request) Handler() (done bool) {
	msg, ok := r.queue.pop()
	if !ok {
		return r.state == StateDone
	}
	r.process(msg)
	return r.state == StateDone
}

func (r *Request) process(msg Message) {
	if r.state == StateDone {
		return
	}
	if msg.Type != 0 {
		r.runResponse(msg)
		return
	}

	h, err := UnmarshalHeader(msg.Payload)
	if err != nil {
		r.fail(newRequestError(KindWireMalformed, r.id, err, "reassembled record header"))
		return
	}
	content := msg.Payload[headerLen : headerLen+int(h.ContentLength)]

	if h.Type == TypeAbortRequest {
		r.finalize(1, StatusRequestComplete)
		return
	}

	switch r.state {
	case StateParams:
		if h.Type != TypeParams {
			r.fail(recordOutOfOrderError(r.id, r.state, h.Type))
			return
		}
		r.handleParams(content)
	case StateIn:
		if h.Type != TypeStdin {
			r.fail(recordOutOfOrderError(r.id, r.state, h.Type))
			return
		}
		r.handleIn(content)
	case StateData:
		if h.Type != TypeData {
			r.fail(recordOutOfOrderError(r.id, r.state, h.Type))
			return
		}
		r.handleData(content)
	case StateOut:
		r.fail(recordOutOfOrderError(r.id, r.state, h.Type))
	}
}

func (r *Request) fail(err error) {
	if r.log != nil {
		r.log.WithError(err).WithField("request", r.id).Warn("fastcgi: request error, finalising")
	}
	_, _ = r.Err.WriteString(err.Error())
	r.finalize(1, StatusRequestComplete)
}

func (r *Request) handleParams(content []byte) {
	if len(content) == 0 {
		r.state = StateIn
		if r.role == RoleAuthorizer {
			r.state = StateOut
			r.enterOut()
			return
		}
		return
	}

	r.paramBuf = append(r.paramBuf, content...)
	for {
		consumed, name, value, ok, err := ProcessParamRecord(r.paramBuf)
		if err != nil {
			r.fail(newRequestError(KindWireMalformed, r.id, err, "decoding PARAMS stream"))
			return
		}
		if !ok {
			break
		}
		r.paramBuf = r.paramBuf[consumed:]
		if err := r.ingestParam(name, value); err != nil {
			r.fail(err)
			return
		}
	}
}

func (r *Request) ingestParam(name, value string) error {
	switch name {
	case "CONTENT_TYPE":
		if httpbody.HasPrefixFold(value, "application/x-www-form-urlencoded") {
			r.urlValues = httpbody.NewMultiMap()
			r.urlDecoder = httpbody.NewURLDecoder(r.urlValues)
		} else if httpbody.HasPrefixFold(value, "multipart/form-data") {
			_, params := httpbody.ParseContentType(value)
			boundary := params["boundary"]
			if boundary != "" {
				pid := os.Getpid()
				r.multipart = httpbody.NewMultipartParser(boundary, localHostname(), pid, time.Now)
			}
		}
	case "QUERY_STRING":
		if err := httpbody.ParseQueryString(value, r.Gets); err != nil {
			return newRequestError(KindBodyParse, r.id, err, "parsing QUERY_STRING")
		}
	case "HTTP_COOKIE":
		set, err := httpbody.ParseCookieHeader(value)
		if err != nil {
			return newRequestError(KindBodyParse, r.id, err, "parsing Cookie header")
		}
		r.Cookies = set
	}

	retain := true
	if pf, ok := r.hooks.(ParamsFilter); ok {
		retain = pf.ParamsHandler(r, name, value)
	}
	if retain {
		r.Envs.set(name, value)
	}
	return nil
}

func (r *Request) handleIn(content []byte) {
	if len(content) == 0 {
		if err := r.finishInPhase(); err != nil {
			r.fail(err)
			return
		}
		if ir, ok := r.hooks.(InReader); ok {
			ir.InHandler(r, nil)
		}
		if r.role == RoleFilter {
			r.state = StateData
			return
		}
		r.state = StateOut
		r.enterOut()
		return
	}

	if ir, ok := r.hooks.(InReader); ok {
		ir.InHandler(r, content)
	}
	if r.urlDecoder != nil {
		if err := r.urlDecoder.Feed(content); err != nil {
			r.fail(newRequestError(KindBodyParse, r.id, err, "decoding url-encoded body"))
			return
		}
	}
	if r.multipart != nil {
		if err := r.multipart.Feed(content); err != nil {
			r.fail(newRequestError(KindBodyParse, r.id, err, "decoding multipart body"))
			return
		}
	}
}

func (r *Request) finishInPhase() error {
	if r.urlDecoder != nil {
		if err := r.urlDecoder.Close(); err != nil {
			return newRequestError(KindBodyParse, r.id, err, "closing url-encoded body")
		}
		for _, key := range r.urlValues.Keys() {
			for _, v := range r.urlValues.Values(key) {
				r.Posts.Add(key, httpbody.NewInlineEntry(key, "text/plain", []byte(v)))
			}
		}
	}
	if r.multipart != nil {
		if err := r.multipart.Close(); err != nil {
			return newRequestError(KindBodyParse, r.id, err, "closing multipart body")
		}
		for _, e := range r.multipart.Parts {
			if e.IsMixed() {
				for _, sub := range e.MixedParts {
					r.MMPosts.Add(e.Name, sub)
				}
				continue
			}
			r.Posts.Add(e.Name, e)
		}
	}
	return nil
}

func (r *Request) handleData(content []byte) {
	if len(content) == 0 {
		if dr, ok := r.hooks.(DataReader); ok {
			dr.DataHandler(r, nil)
		}
		r.state = StateOut
		r.enterOut()
		return
	}
	if dr, ok := r.hooks.(DataReader); ok {
		dr.DataHandler(r, content)
	}
}

func (r *Request) enterOut() {
	r.runResponse(Message{})
}

func (r *Request) runResponse(msg Message) {
	rh, ok := r.hooks.(ResponseHandler)
	if !ok {
		r.finalize(0, StatusRequestComplete)
		return
	}
	if rh.Response(r, msg) {
		r.finalize(r.appStatus, StatusRequestComplete)
	}
}

// SetAppStatus sets the application status code returned in END_REQUEST
// once the request finalises successfully.
func (r *Request) SetAppStatus(code int32) { r.appStatus = code }

func (r *Request) finalize(appStatus int32, protoStatus uint8) {
	if r.state == StateDone {
		return
	}
	r.Out.finish(false)
	r.Err.finish(false)

	var body EndRequestBody
	body.AppStatus = appStatus
	body.ProtocolStatus = protoStatus
	bb, _ := body.MarshalBinary()
	emitRecord(r.t, TypeEndRequest, r.id, bb, !r.keepConn)

	r.state = StateDone
}

// Session is a read-only aggregate view over a request's decoded
// environment and form data, merging Envs/Gets/Posts/MMPosts/Cookies
// under one accessor.
type Session struct {
	Envs    *EnvMap
	Gets    *httpbody.MultiMap
	Posts   *PostMap
	MMPosts *PostMap
	Cookies *httpbody.CookieSet
}

// Session returns the aggregate view of this request's decoded data.
func (r *Request) Session() Session {
	return Session{
		Envs:    r.Envs,
		Gets:    r.Gets,
		Posts:   r.Posts,
		MMPosts: r.MMPosts,
		Cookies: r.Cookies,
	}
}

// Close releases every file-backed multipart entry the request decoded.
// The manager calls this once, when the request is removed from its table.
func (r *Request) Close() {
	for _, key := range r.Posts.Keys() {
		for _, e := range r.Posts.Values(key) {
			_ = e.Close()
		}
	}
	for _, key := range r.MMPosts.Keys() {
		for _, e := range r.MMPosts.Values(key) {
			_ = e.Close()
		}
	}
}
