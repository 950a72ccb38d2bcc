package log

import (
	"runtime/debug"
	"strings"

	"github.com/rs/zerolog"
)

// Lines of the goroutine header plus the debug.Stack and Panic frames.
const panicStackSkip = 5

// Panic records a recovered value along with the stack of the goroutine that
// recovered it.
func Panic(v any) func(e *zerolog.Event) {
	stack := strings.Split(strings.TrimSpace(string(debug.Stack())), "\n")
	stack = stack[min(len(stack), panicStackSkip):]
	return func(e *zerolog.Event) {
		e.Dict("panic", zerolog.Dict().Any("content", v).Strs("stack_traces", stack))
	}
}

// Recover must be deferred directly.
func Recover(logger zerolog.Logger, msg string) {
	if r := recover(); nil != r {
		logger.Error().Func(Panic(r)).Msg(msg)
	}
}
