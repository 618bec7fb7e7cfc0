package model

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/valyala/fastjson"
)

// legacyLayouts are accepted in addition to RFC 3339; they carry no zone and are read as UTC.
var legacyLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

var (
	parsers  fastjson.ParserPool
	arenas   fastjson.ArenaPool
	validate = newValidator()
)

// DecodeError reports a payload that cannot become a LogEntry.
type DecodeError struct {
	Field  string
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	msg := "decode log entry"
	if e.Field != "" {
		msg += ": " + e.Field
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DecodeError) Unwrap() error { return e.Err }

// IsDecodeError reports whether err is, or wraps, a DecodeError.
func IsDecodeError(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}

// Decode parses a JSON log payload. Missing optional fields, and fields set
// to null, stay absent.
func Decode(raw []byte) (LogEntry, error) {
	p := parsers.Get()
	defer parsers.Put(p)

	v, err := p.ParseBytes(raw)
	if err != nil {
		return LogEntry{}, &DecodeError{Reason: "malformed payload", Err: err}
	}
	if v.Type() != fastjson.TypeObject {
		return LogEntry{}, &DecodeError{Reason: "payload is not an object"}
	}

	var e LogEntry

	ts, err := requiredString(v, "timestamp")
	if err != nil {
		return LogEntry{}, err
	}
	if e.Timestamp, err = parseTimestamp(ts); err != nil {
		return LogEntry{}, &DecodeError{Field: "timestamp", Reason: "unrecognized format", Err: err}
	}

	lvl, err := requiredString(v, "level")
	if err != nil {
		return LogEntry{}, err
	}
	level, ok := ParseLevel(lvl)
	if !ok {
		return LogEntry{}, &DecodeError{Field: "level", Reason: fmt.Sprintf("unknown level %q", lvl)}
	}
	e.Level = level

	if e.Message, err = requiredString(v, "message"); err != nil {
		return LogEntry{}, err
	}

	if e.Request, err = optionalString(v, "request"); err != nil {
		return LogEntry{}, err
	}
	if e.Features, err = optionalFeatures(v); err != nil {
		return LogEntry{}, err
	}
	if e.Label, err = optionalLabel(v); err != nil {
		return LogEntry{}, err
	}

	if err := Validate(e); err != nil {
		return LogEntry{}, err
	}
	return e, nil
}

// Encode renders e in the wire format read by Decode.
func Encode(e LogEntry) ([]byte, error) {
	if err := Validate(e); err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}

	a := arenas.Get()
	defer arenas.Put(a)

	o := a.NewObject()
	o.Set("timestamp", a.NewString(e.Timestamp.UTC().Format(time.RFC3339Nano)))
	o.Set("level", a.NewString(string(e.Level)))
	o.Set("message", a.NewString(e.Message))
	if e.Request != nil {
		o.Set("request", a.NewString(*e.Request))
	}
	if e.Features != nil {
		arr := a.NewArray()
		for i, f := range e.Features {
			arr.SetArrayItem(i, a.NewNumberFloat64(f))
		}
		o.Set("features", arr)
	}
	if e.Label != nil {
		o.Set("label", a.NewNumberInt(*e.Label))
	}
	return o.MarshalTo(nil), nil
}

// Validate checks the mandatory-field invariant of a LogEntry.
func Validate(e LogEntry) error {
	if e.Timestamp.IsZero() {
		return &DecodeError{Field: "timestamp", Reason: "missing"}
	}
	for _, f := range e.Features {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return &DecodeError{Field: "features", Reason: "non-finite value"}
		}
	}
	if err := validate.Struct(e); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return &DecodeError{Field: verrs[0].Field(), Reason: "failed " + verrs[0].Tag() + " check"}
		}
		return &DecodeError{Reason: "invalid entry", Err: err}
	}
	return nil
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func parseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err == nil {
		return t.UTC(), nil
	}
	for _, layout := range legacyLayouts {
		if lt, lerr := time.ParseInLocation(layout, s, time.UTC); lerr == nil {
			return lt, nil
		}
	}
	return time.Time{}, err
}

func requiredString(v *fastjson.Value, key string) (string, error) {
	s, err := optionalString(v, key)
	if err != nil {
		return "", err
	}
	if s == nil {
		return "", &DecodeError{Field: key, Reason: "missing"}
	}
	return *s, nil
}

func optionalString(v *fastjson.Value, key string) (*string, error) {
	f := v.Get(key)
	if f == nil || f.Type() == fastjson.TypeNull {
		return nil, nil
	}
	b, err := f.StringBytes()
	if err != nil {
		return nil, &DecodeError{Field: key, Reason: "not a string", Err: err}
	}
	s := string(b)
	return &s, nil
}

func optionalFeatures(v *fastjson.Value) ([]float64, error) {
	f := v.Get("features")
	if f == nil || f.Type() == fastjson.TypeNull {
		return nil, nil
	}
	items, err := f.Array()
	if err != nil {
		return nil, &DecodeError{Field: "features", Reason: "not an array", Err: err}
	}
	out := make([]float64, 0, len(items))
	for i, item := range items {
		x, err := item.Float64()
		if err != nil {
			return nil, &DecodeError{Field: "features", Reason: fmt.Sprintf("item %d is not a number", i), Err: err}
		}
		out = append(out, x)
	}
	return out, nil
}

func optionalLabel(v *fastjson.Value) (*int, error) {
	f := v.Get("label")
	if f == nil || f.Type() == fastjson.TypeNull {
		return nil, nil
	}
	n, err := f.Int()
	if err != nil {
		return nil, &DecodeError{Field: "label", Reason: "not an integer", Err: err}
	}
	return &n, nil
}
