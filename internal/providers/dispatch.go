package providers

import (
	"errors"

	"github.com/mihaisavezi/hermesllm/internal/canonical"
	"github.com/mihaisavezi/hermesllm/internal/sse"
)

// translator is implemented once per wire family. Every codec must provide
// every operation; the var checks below turn a missing one into a build
// failure.
type translator interface {
	parseRequest(d *dialect, body []byte, o *options) (*canonical.Request, error)
	serializeRequest(d *dialect, req *canonical.Request) ([]byte, []Downgrade, error)
	parseResponse(d *dialect, body []byte) (*canonical.Response, error)
	serializeResponse(d *dialect, resp *canonical.Response) ([]byte, error)
	newFrameParser(d *dialect) frameParser
	newChunkEncoder(d *dialect) chunkEncoder
}

// frameParser turns one SSE event into zero or one chunk. terminal is set
// when the event ends the stream.
type frameParser interface {
	parse(ev sse.Event) (chunk *canonical.StreamChunk, terminal bool, err error)
}

type chunkEncoder interface {
	encode(chunk *canonical.StreamChunk) ([]byte, error)
	end() []byte
}

var (
	_ translator = chatCodec{}
	_ translator = messagesCodec{}
	_ translator = geminiCodec{}
)

var codecs = [...]translator{
	ChatCompletions: chatCodec{},
	Messages:        messagesCodec{},
	GenerateContent: geminiCodec{},
}

// Fails to compile when an API has no codec.
var _ = [1]struct{}{}[len(codecs)-int(apiCount)]

type options struct {
	path  string
	model string
}

// Option adjusts request parsing.
type Option func(*options)

// WithPath supplies the client request path. The generate-content surface
// carries the model and streaming flag there rather than in the body.
func WithPath(path string) Option {
	return func(o *options) {
		o.path = path
	}
}

// WithModel supplies the model when the wire body does not carry one.
func WithModel(model string) Option {
	return func(o *options) {
		o.model = model
	}
}

// Encoded is a serialized upstream request.
type Encoded struct {
	Body []byte
	// Path is the upstream path for the request, relative to BaseURL.
	Path       string
	Downgrades []Downgrade
}

// resolve performs the capability check every entry point starts with.
func resolve(id ProviderID, api API) (*dialect, translator, Capability, error) {
	c, err := Lookup(id, api)
	if err != nil {
		return nil, nil, c, err
	}

	return dialectOf(id), codecs[api], c, nil
}

// annotate stamps provider and surface onto translation errors.
func annotate(err error, id ProviderID, api API) error {
	var e *canonical.Error
	if errors.As(err, &e) && e.Provider == "" {
		e.Provider = id.String()
		e.API = api.String()
	}

	return err
}

// ParseRequest parses a client or upstream request body in the wire format
// of (id, api).
func ParseRequest(id ProviderID, api API, body []byte, opts ...Option) (*canonical.Request, error) {
	d, t, _, err := resolve(id, api)
	if err != nil {
		return nil, err
	}

	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	req, err := t.parseRequest(d, body, o)
	if err != nil {
		return nil, annotate(err, id, api)
	}

	return req, nil
}

// SerializeRequest encodes req for the upstream (id, api). Parts the
// target cannot carry are flattened or omitted and listed in Downgrades.
func SerializeRequest(id ProviderID, api API, req *canonical.Request) (*Encoded, error) {
	d, t, c, err := resolve(id, api)
	if err != nil {
		return nil, err
	}

	if req == nil {
		return nil, annotate(canonical.Malformed(errors.New("nil request")), id, api)
	}

	body, downgrades, err := t.serializeRequest(d, req)
	if err != nil {
		return nil, annotate(err, id, api)
	}

	return &Encoded{
		Body:       body,
		Path:       c.ResolvePath(req.Model, req.Stream),
		Downgrades: downgrades,
	}, nil
}

// ParseResponse parses a non-streaming response body. Provider error
// envelopes are returned as KindUpstreamError.
func ParseResponse(id ProviderID, api API, body []byte) (*canonical.Response, error) {
	d, t, _, err := resolve(id, api)
	if err != nil {
		return nil, err
	}

	resp, err := t.parseResponse(d, body)
	if err != nil {
		return nil, annotate(err, id, api)
	}

	return resp, nil
}

// SerializeResponse encodes resp in the wire format of (id, api), for
// clients that speak a different format than the upstream.
func SerializeResponse(id ProviderID, api API, resp *canonical.Response) ([]byte, error) {
	d, t, _, err := resolve(id, api)
	if err != nil {
		return nil, err
	}

	if resp == nil {
		return nil, annotate(canonical.Malformed(errors.New("nil response")), id, api)
	}

	out, err := t.serializeResponse(d, resp)
	if err != nil {
		return nil, annotate(err, id, api)
	}

	return out, nil
}

// ExtractUsage returns the usage of a parsed response, or false when the
// provider reported none.
func ExtractUsage(resp *canonical.Response) (canonical.Usage, bool) {
	return canonical.ExtractUsage(resp)
}

// UsageFromBody extracts usage straight from a raw response body or stream
// frame without a full parse.
func UsageFromBody(id ProviderID, body []byte) (canonical.Usage, bool) {
	if !id.Valid() {
		return canonical.Usage{}, false
	}

	u := extractUsage(dialectOf(id), body)
	if u == nil {
		return canonical.Usage{}, false
	}

	return *u, true
}

// OpenStream returns a decoder for one upstream SSE response.
func OpenStream(id ProviderID, api API) (*Stream, error) {
	d, t, _, err := resolve(id, api)
	if err != nil {
		return nil, err
	}

	return &Stream{
		id:     id,
		api:    api,
		dec:    sse.NewDecoder(),
		parser: t.newFrameParser(d),
	}, nil
}

// NewStreamEncoder returns an encoder producing SSE frames in the wire
// format of (id, api).
func NewStreamEncoder(id ProviderID, api API) (*StreamEncoder, error) {
	d, t, _, err := resolve(id, api)
	if err != nil {
		return nil, err
	}

	return &StreamEncoder{id: id, api: api, enc: t.newChunkEncoder(d)}, nil
}
