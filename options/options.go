// Package options converts structured command options into Mercurial
// command-line flag tokens.
//
// Values are a closed set: a flag that is present, a flag that is explicitly
// negated, or a flag that carries a string value. The zero Value is invalid
// and is rejected when the set is encoded.
package options

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"
)

// ErrInvalidOption is returned when an option carries an unsupported value.
var ErrInvalidOption = errors.New("invalid command option")

// Kind identifies which variant a Value holds.
type Kind int

const (
	kindInvalid Kind = iota
	KindFlag
	KindNegated
	KindString
)

func (k Kind) String() string {
	switch k {
	case KindFlag:
		return "flag"
	case KindNegated:
		return "negated"
	case KindString:
		return "string"
	default:
		return "invalid"
	}
}

// Value is the value of a single option.
type Value struct {
	kind Kind
	str  string
}

// Flag returns a value that emits the bare flag.
func Flag() Value { return Value{kind: KindFlag} }

// Negated returns a value that emits --no-<name> for long names and nothing
// for single-character names.
func Negated() Value { return Value{kind: KindNegated} }

// String returns a value that passes s as the flag's argument.
func String(s string) Value { return Value{kind: KindString, str: s} }

// Bool returns Flag for true and Negated for false.
func Bool(b bool) Value {
	if b {
		return Flag()
	}
	return Negated()
}

// Kind reports the variant held by v.
func (v Value) Kind() Kind { return v.kind }

// Str returns the string argument for KindString values.
func (v Value) Str() string { return v.str }

// Valid reports whether v is one of the supported variants.
func (v Value) Valid() bool {
	return v.kind == KindFlag || v.kind == KindNegated || v.kind == KindString
}

func (v Value) GoString() string {
	if v.kind == KindString {
		return fmt.Sprintf("String(%q)", v.str)
	}
	return v.kind.String()
}

// Option is a named option entry.
type Option struct {
	Name  string
	Value Value
}

// InvalidOptionError names the entry that could not be encoded.
type InvalidOptionError struct {
	Name   string
	Detail string
}

func (e *InvalidOptionError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("can't handle command option %q: %s", e.Name, e.Detail)
	}
	return fmt.Sprintf("can't handle command option %q", e.Name)
}

func (e *InvalidOptionError) Unwrap() error { return ErrInvalidOption }

// Set is an ordered collection of options. Setting a name that is already
// present replaces its value without moving it.
type Set struct {
	entries []Option
}

// New returns a Set holding opts in order.
func New(opts ...Option) Set {
	var s Set
	for _, o := range opts {
		s = s.With(o.Name, o.Value)
	}
	return s
}

// With returns a copy of s with name set to v.
func (s Set) With(name string, v Value) Set {
	out := Set{entries: make([]Option, len(s.entries), len(s.entries)+1)}
	copy(out.entries, s.entries)
	for i := range out.entries {
		if out.entries[i].Name == name {
			out.entries[i].Value = v
			return out
		}
	}
	out.entries = append(out.entries, Option{Name: name, Value: v})
	return out
}

// Flag returns a copy of s with name present as a bare flag.
func (s Set) Flag(name string) Set { return s.With(name, Flag()) }

// Negate returns a copy of s with name explicitly negated.
func (s Set) Negate(name string) Set { return s.With(name, Negated()) }

// String returns a copy of s with name carrying value.
func (s Set) String(name, value string) Set { return s.With(name, String(value)) }

// Get returns the value stored for name.
func (s Set) Get(name string) (Value, bool) {
	for _, o := range s.entries {
		if o.Name == name {
			return o.Value, true
		}
	}
	return Value{}, false
}

// Len returns the number of entries.
func (s Set) Len() int { return len(s.entries) }

// Entries returns a copy of the entries in order.
func (s Set) Entries() []Option {
	return append([]Option(nil), s.entries...)
}

// FromMap builds a Set from dynamically typed values, as decoded from JSON.
// true maps to Flag, false and nil to Negated, and strings to String. Keys
// are sorted so the resulting order is deterministic.
func FromMap(m map[string]any) (Set, error) {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)

	var s Set
	for _, name := range names {
		switch val := m[name].(type) {
		case nil:
			s = s.Negate(name)
		case bool:
			s = s.With(name, Bool(val))
		case string:
			s = s.String(name, val)
		default:
			return Set{}, &InvalidOptionError{Name: name, Detail: fmt.Sprintf("unsupported value %v (%T)", val, val)}
		}
	}
	return s, nil
}

// Encode converts s into flag tokens in insertion order.
func Encode(s Set) ([]string, error) {
	tokens := make([]string, 0, len(s.entries))
	for _, o := range s.entries {
		toks, err := encodeOne(o)
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, toks...)
	}
	return tokens, nil
}

func encodeOne(o Option) ([]string, error) {
	if o.Name == "" {
		return nil, &InvalidOptionError{Name: o.Name, Detail: "empty name"}
	}

	long := utf8.RuneCountInString(o.Name) > 1
	flag := "-" + o.Name
	if long {
		flag = "--" + strings.ReplaceAll(o.Name, "_", "-")
	}

	switch o.Value.kind {
	case KindFlag:
		return []string{flag}, nil
	case KindNegated:
		if long {
			return []string{"--no-" + strings.TrimPrefix(flag, "--")}, nil
		}
		return nil, nil
	case KindString:
		if long {
			return []string{flag + "=" + o.Value.str}, nil
		}
		return []string{flag, o.Value.str}, nil
	default:
		return nil, &InvalidOptionError{Name: o.Name, Detail: "value is not a flag, negation or string"}
	}
}
