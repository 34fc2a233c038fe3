/*
Package providers translates between provider wire formats and the
canonical model in package canonical.

# Providers and surfaces

The set of providers is closed (ProviderID). Each provider exposes one or
more API surfaces:

	ChatCompletions   /v1/chat/completions style bodies (every provider)
	Messages          /v1/messages bodies (Anthropic)
	GenerateContent   models/{model}:generateContent bodies (Gemini)

The capability table answers which pairs exist and which upstream path
serves them:

	c, err := providers.Lookup(providers.Groq, providers.ChatCompletions)
	// c.PathTemplate == "/openai/v1/chat/completions"

Providers that share a surface share a codec. What differs between them
(accepted role names, image support, reasoning fields, usage locations,
extra finish reasons) is described by the provider's dialect entry.

# Translating requests and responses

	req, err := providers.ParseRequest(providers.OpenAI, providers.ChatCompletions, body)
	enc, err := providers.SerializeRequest(providers.Anthropic, providers.Messages, req)
	// enc.Body, enc.Path, enc.Downgrades

Every entry point checks the capability table first and returns an error
matching canonical.ErrUnsupportedSurface, without reading the body, when
the pair is not served.

Content a target cannot carry is never dropped silently. Images sent to a
provider without image input become "[image: <url>]" text; tool calls with
arguments that are not a JSON object become text; thinking is omitted from
requests. Each case is listed in Encoded.Downgrades.

# Streaming

A Stream is fed raw upstream bytes and yields canonical chunks:

	s, _ := providers.OpenStream(providers.OpenAI, providers.ChatCompletions)
	s.Write(p)
	for {
		chunk, err := s.Next()
		switch {
		case errors.Is(err, sse.ErrIncomplete):
			// read more
		case errors.Is(err, canonical.ErrStreamFrame):
			// one bad frame, keep pulling
		case errors.Is(err, io.EOF):
			// terminated
		}
	}

Terminal signals per surface:

	ChatCompletions   data: [DONE]
	Messages          event: message_stop
	GenerateContent   the frame whose candidate has a finishReason

Role-only deltas, ping events and block boundaries carry nothing and do
not produce chunks. A connection that ends before the terminal signal
yields a StreamTerminatedAbnormally error.

A StreamEncoder does the reverse for clients that speak a different
surface than the upstream, re-framing canonical chunks into that
surface's event grammar. The messages encoder opens and closes content
blocks as the chunk kinds change and holds the final message_delta until
usage arrives or End is called.
*/
package providers
