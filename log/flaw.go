package log

import (
	"errors"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/xeptore/flaw/v8"
)

// Flaw expands err into the event. Flaws contribute their records, joined
// errors and stack traces; other errors only their message and type.
func Flaw(err error) func(e *zerolog.Event) {
	return func(e *zerolog.Event) {
		if nil == err {
			return
		}

		f := new(flaw.Flaw)
		if !errors.As(err, &f) {
			e.Dict("error", errorDict(err.Error(), fmt.Sprintf("%T", err), ""))
			return
		}

		e.Dict("error", errorDict(f.Inner, f.InnerType, f.InnerSyntaxRepr))

		records := zerolog.Arr()
		for _, r := range f.Records {
			records.Dict(recordDict(r.Function, r.Payload))
		}
		e.Array("records", records)

		joined := zerolog.Arr()
		for _, j := range f.JoinedErrors {
			d := zerolog.Dict().Dict("error", errorDict(j.Message, j.TypeName, j.SyntaxRepr))
			if st := j.CallerStackTrace; nil != st {
				d.Dict("caller_stack_trace", frameDict(fmt.Sprintf("%s:%d", st.File, st.Line), st.Function))
			} else {
				d.Stringer("caller_stack_trace", nil)
			}
			joined.Dict(d)
		}
		e.Array("joined_errors", joined)

		frames := zerolog.Arr()
		for _, st := range f.StackTrace {
			frames.Dict(frameDict(fmt.Sprintf("%s:%d", st.File, st.Line), st.Function))
		}
		e.Array("stack_traces", frames)
	}
}

func errorDict(message, typeName, syntaxRepr string) *zerolog.Event {
	d := zerolog.Dict().Str("message", message).Str("type_name", typeName)
	if syntaxRepr != "" {
		d.Str("syntax_representation", syntaxRepr)
	}
	return d
}

func frameDict(location, function string) *zerolog.Event {
	return zerolog.Dict().Str("location", location).Str("function", function)
}

func recordDict(function string, payload any) *zerolog.Event {
	d := zerolog.Dict().Str("function", function)
	b, err := json.MarshalWithOption(payload, json.UnorderedMap(), json.DisableNormalizeUTF8(), json.DisableHTMLEscape())
	if nil != err {
		return d.Dict("payload", zerolog.Dict().Str("error", err.Error()).Str("raw", fmt.Sprintf("%#+v", payload)))
	}
	return d.RawJSON("payload", b)
}
