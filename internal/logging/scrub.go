package logging

import (
	"go.uber.org/zap/zapcore"
)

// scrubCore rewrites entries through a Scrubber before delegating
type scrubCore struct {
	zapcore.Core
	s Scrubber
}

// WithScrubber wraps core so messages and string fields are scrubbed
func WithScrubber(core zapcore.Core, s Scrubber) zapcore.Core {
	return &scrubCore{Core: core, s: s}
}

func (c *scrubCore) With(fields []zapcore.Field) zapcore.Core {
	return &scrubCore{Core: c.Core.With(c.scrubFields(fields)), s: c.s}
}

func (c *scrubCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *scrubCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	ent.Message = c.s.Scrub(ent.Message)
	return c.Core.Write(ent, c.scrubFields(fields))
}

func (c *scrubCore) scrubFields(fields []zapcore.Field) []zapcore.Field {
	out := make([]zapcore.Field, len(fields))
	for i, f := range fields {
		switch {
		case f.Type == zapcore.StringType:
			f.String = c.s.Scrub(f.String)
		case f.Type == zapcore.ErrorType && f.Interface != nil:
			if err, ok := f.Interface.(error); ok {
				f = zapcore.Field{Key: f.Key, Type: zapcore.StringType, String: c.s.Scrub(err.Error())}
			}
		case f.Type == zapcore.StringerType && f.Interface != nil:
			if st, ok := f.Interface.(interface{ String() string }); ok {
				f = zapcore.Field{Key: f.Key, Type: zapcore.StringType, String: c.s.Scrub(st.String())}
			}
		}
		out[i] = f
	}
	return out
}
