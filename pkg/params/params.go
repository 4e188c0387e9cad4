// Package params holds the named, typed parameters a decoder is configured
// with.
//
// Every parameter has a [Definition] giving its type, default and whether it
// is required. Values can be set programmatically, parsed from the loose
// JSON-like text accepted by [ParseLoose], or round-tripped through strict
// JSON with encoding/json.
package params

import (
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"maps"
	"slices"
	"strconv"
	"strings"
)

// ErrInvalidConfig is returned for unknown parameter names, values of the
// wrong type, missing required parameters and conflicting search settings.
var ErrInvalidConfig = errors.New("params: invalid config")

// Type is the value type of a parameter.
type Type int

const (
	Integer Type = iota
	Float
	String
	Boolean
)

func (t Type) String() string {
	switch t {
	case Integer:
		return "integer"
	case Float:
		return "float"
	case String:
		return "string"
	case Boolean:
		return "boolean"
	default:
		return fmt.Sprintf("Type(%d)", int(t))
	}
}

// Definition describes one recognised parameter.
type Definition struct {
	Name     string
	Type     Type
	Required bool
	Default  any
	Doc      string
}

// Keys that select the search added as "_default" at decoder construction.
// At most one of them may be set.
var SearchKeys = []string{"lm", "jsgf", "fsg", "kws", "keyphrase", "allphone"}

var definitions = []Definition{
	{Name: "hmm", Type: String, Required: true, Doc: "acoustic model path, for engines that load one"},
	{Name: "dict", Type: String, Doc: "pronunciation dictionary"},
	{Name: "fdict", Type: String, Doc: "filler dictionary"},
	{Name: "lm", Type: String, Doc: "N-gram language model"},
	{Name: "jsgf", Type: String, Doc: "JSGF grammar file"},
	{Name: "toprule", Type: String, Doc: "start rule of the JSGF grammar, default the first public rule"},
	{Name: "fsg", Type: String, Doc: "FSG grammar file"},
	{Name: "kws", Type: String, Doc: "keyphrase list file"},
	{Name: "keyphrase", Type: String, Doc: "single keyphrase to spot"},
	{Name: "allphone", Type: String, Doc: "phone N-gram model for phone loop decoding"},
	{Name: "samprate", Type: Integer, Default: int64(16000), Doc: "sampling rate in Hz"},
	{Name: "frate", Type: Integer, Default: int64(100), Doc: "frames per second"},
	{Name: "lw", Type: Float, Default: 6.5, Doc: "language model weight"},
	{Name: "beam", Type: Float, Default: 1e-48, Doc: "main search beam"},
	{Name: "bestpath", Type: Boolean, Default: true, Doc: "run a bestpath search over the lattice"},
	{Name: "nbest", Type: Integer, Default: int64(5), Doc: "maximum number of N-best hypotheses"},
	{Name: "kws_threshold", Type: Float, Default: 1.0, Doc: "keyphrase detection threshold"},
	{Name: "language", Type: String, Default: "en", Doc: "language code for engines that need one"},
	{Name: "vad_mode", Type: Integer, Default: int64(0), Doc: "voice activity detector aggressiveness 0-3"},
	{Name: "vad_window", Type: Float, Default: 0.3, Doc: "endpointer decision window in seconds"},
	{Name: "vad_ratio", Type: Float, Default: 0.9, Doc: "endpointer decision ratio"},
	{Name: "loglevel", Type: String, Default: "warn", Doc: "engine log level"},
}

var byName = func() map[string]Definition {
	m := make(map[string]Definition, len(definitions))
	for _, d := range definitions {
		m[d.Name] = d
	}
	return m
}()

// Definitions returns all recognised parameters in declaration order.
func Definitions() iter.Seq[Definition] { return slices.Values(definitions) }

// Lookup returns the definition of name.
func Lookup(name string) (Definition, bool) {
	d, ok := byName[name]
	return d, ok
}

// Params is a set of explicitly assigned parameter values. Unassigned
// parameters read as their defaults. The zero value is not usable; use [New].
type Params struct {
	values map[string]any
}

// New returns an empty parameter set.
func New() *Params {
	return &Params{values: make(map[string]any)}
}

// Clone returns a deep copy of p.
func (p *Params) Clone() *Params {
	return &Params{values: maps.Clone(p.values)}
}

// Set assigns v to name. Integers may be given as any Go integer type,
// floats as float32/float64 or integers. A string is parsed according to the
// parameter's type.
func (p *Params) Set(name string, v any) error {
	d, ok := byName[name]
	if !ok {
		return fmt.Errorf("%w: unknown parameter %q", ErrInvalidConfig, name)
	}
	cv, err := coerce(d, v)
	if err != nil {
		return err
	}
	p.values[name] = cv
	return nil
}

// Unset removes an explicit assignment.
func (p *Params) Unset(name string) { delete(p.values, name) }

// IsSet reports whether name was assigned explicitly.
func (p *Params) IsSet(name string) bool {
	_, ok := p.values[name]
	return ok
}

// Keys yields the names of explicitly assigned parameters in sorted order.
func (p *Params) Keys() iter.Seq[string] {
	return slices.Values(slices.Sorted(maps.Keys(p.values)))
}

func (p *Params) get(name string, want Type) any {
	d, ok := byName[name]
	if !ok || d.Type != want {
		panic(fmt.Sprintf("params: %q is not a %s parameter", name, want))
	}
	if v, ok := p.values[name]; ok {
		return v
	}
	return d.Default
}

// Int returns the value of an Integer parameter. It panics if name is not a
// known Integer parameter.
func (p *Params) Int(name string) int64 {
	v, _ := p.get(name, Integer).(int64)
	return v
}

// Float returns the value of a Float parameter.
func (p *Params) Float(name string) float64 {
	v, _ := p.get(name, Float).(float64)
	return v
}

// String returns the value of a String parameter.
func (p *Params) String(name string) string {
	v, _ := p.get(name, String).(string)
	return v
}

// Bool returns the value of a Boolean parameter.
func (p *Params) Bool(name string) bool {
	v, _ := p.get(name, Boolean).(bool)
	return v
}

// Search returns the single search-selecting key that is set, if any.
func (p *Params) Search() (key, value string, ok bool) {
	for _, k := range SearchKeys {
		if p.IsSet(k) {
			return k, p.String(k), true
		}
	}
	return "", "", false
}

// Required returns the names of the parameters marked required.
func Required() []string {
	var names []string
	for _, d := range definitions {
		if d.Required {
			names = append(names, d.Name)
		}
	}
	return names
}

// Validate checks required parameters, value ranges and mutually exclusive
// search keys. Required parameters listed in waived are not checked, for
// engines that do without them.
func (p *Params) Validate(waived ...string) error {
	var errs []error
	for _, d := range definitions {
		if d.Required && !p.IsSet(d.Name) && !slices.Contains(waived, d.Name) {
			errs = append(errs, fmt.Errorf("%w: %q is required", ErrInvalidConfig, d.Name))
		}
	}
	var set []string
	for _, k := range SearchKeys {
		if p.IsSet(k) {
			set = append(set, k)
		}
	}
	if len(set) > 1 {
		errs = append(errs, fmt.Errorf("%w: %s are mutually exclusive", ErrInvalidConfig, strings.Join(set, ", ")))
	}
	if m := p.Int("vad_mode"); m < 0 || m > 3 {
		errs = append(errs, fmt.Errorf("%w: vad_mode %d out of range [0, 3]", ErrInvalidConfig, m))
	}
	if r := p.Float("vad_ratio"); r <= 0 || r > 1 {
		errs = append(errs, fmt.Errorf("%w: vad_ratio %g out of range (0, 1]", ErrInvalidConfig, r))
	}
	if th := p.Float("kws_threshold"); th <= 0 {
		errs = append(errs, fmt.Errorf("%w: kws_threshold %g must be positive", ErrInvalidConfig, th))
	}
	return errors.Join(errs...)
}

// MarshalJSON encodes the explicitly assigned values as a flat JSON object.
func (p *Params) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.values)
}

// UnmarshalJSON replaces the contents of p with the values of a flat JSON
// object. Each value must match the type of its parameter.
func (p *Params) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	values := make(map[string]any, len(raw))
	for name, msg := range raw {
		d, ok := byName[name]
		if !ok {
			return fmt.Errorf("%w: unknown parameter %q", ErrInvalidConfig, name)
		}
		var v any
		var err error
		switch d.Type {
		case Integer:
			var n int64
			err = json.Unmarshal(msg, &n)
			v = n
		case Float:
			var f float64
			err = json.Unmarshal(msg, &f)
			v = f
		case String:
			var s string
			err = json.Unmarshal(msg, &s)
			v = s
		case Boolean:
			var b bool
			err = json.Unmarshal(msg, &b)
			v = b
		}
		if err != nil {
			return fmt.Errorf("%w: %q: want %s: %w", ErrInvalidConfig, name, d.Type, err)
		}
		values[name] = v
	}
	p.values = values
	return nil
}

func coerce(d Definition, v any) (any, error) {
	mismatch := func() error {
		return fmt.Errorf("%w: %q: want %s, got %T", ErrInvalidConfig, d.Name, d.Type, v)
	}
	if s, ok := v.(string); ok && d.Type != String {
		return parseScalar(d, s)
	}
	switch d.Type {
	case Integer:
		switch n := v.(type) {
		case int:
			return int64(n), nil
		case int32:
			return int64(n), nil
		case int64:
			return n, nil
		case uint32:
			return int64(n), nil
		}
	case Float:
		switch f := v.(type) {
		case float64:
			return f, nil
		case float32:
			return float64(f), nil
		case int:
			return float64(f), nil
		case int64:
			return float64(f), nil
		}
	case String:
		if s, ok := v.(string); ok {
			return s, nil
		}
	case Boolean:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	}
	return nil, mismatch()
}

func parseScalar(d Definition, s string) (any, error) {
	switch d.Type {
	case Integer:
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %q is not an integer", ErrInvalidConfig, d.Name, s)
		}
		return n, nil
	case Float:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %q is not a number", ErrInvalidConfig, d.Name, s)
		}
		return f, nil
	case Boolean:
		switch strings.ToLower(s) {
		case "true", "yes", "on", "1":
			return true, nil
		case "false", "no", "off", "0":
			return false, nil
		}
		return nil, fmt.Errorf("%w: %q: %q is not a boolean", ErrInvalidConfig, d.Name, s)
	}
	return s, nil
}
