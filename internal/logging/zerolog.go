package logging

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

type ZerologLogger struct {
	l zerolog.Logger
}

func NewZerologLogger(l zerolog.Logger) *ZerologLogger {
	return &ZerologLogger{l: l}
}

func (z *ZerologLogger) Debug(ctx context.Context, msg string, args ...any) {
	z.emit(z.l.Debug(), msg, args)
}

func (z *ZerologLogger) Info(ctx context.Context, msg string, args ...any) {
	z.emit(z.l.Info(), msg, args)
}

func (z *ZerologLogger) Warn(ctx context.Context, msg string, args ...any) {
	z.emit(z.l.Warn(), msg, args)
}

func (z *ZerologLogger) Error(ctx context.Context, msg string, args ...any) {
	z.emit(z.l.Error(), msg, args)
}

func (z *ZerologLogger) With(args ...any) Logger {
	c := z.l.With()
	for i := 0; i < len(args); i += 2 {
		c = c.Interface(keyAt(args, i), valueAt(args, i))
	}
	return &ZerologLogger{l: c.Logger()}
}

// emit converts slog-style key/value pairs into zerolog fields. A trailing
// key without a value is logged under "!BADKEY", as slog does.
func (z *ZerologLogger) emit(e *zerolog.Event, msg string, args []any) {
	for i := 0; i < len(args); i += 2 {
		v := valueAt(args, i)
		if err, ok := v.(error); ok {
			e = e.AnErr(keyAt(args, i), err)
			continue
		}
		e = e.Interface(keyAt(args, i), v)
	}
	e.Msg(msg)
}

func keyAt(args []any, i int) string {
	if i+1 >= len(args) {
		return "!BADKEY"
	}
	if s, ok := args[i].(string); ok {
		return s
	}
	return fmt.Sprint(args[i])
}

func valueAt(args []any, i int) any {
	if i+1 >= len(args) {
		return args[i]
	}
	return args[i+1]
}
