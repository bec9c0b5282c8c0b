package dispatch

import (
	"bytes"
	"encoding/json"
	"io"
	"sort"
	"strings"

	"github.com/tnqbao/gau-music-dispatch/config"
	"github.com/tnqbao/gau-music-dispatch/entity"
)

// Validator applies the configured bounds to a submission. The payload is
// otherwise opaque: unknown fields pass through untouched.
type Validator struct {
	maxBytes int
	bounds   map[string]config.Range
	enums    map[string][]string
	required []string
}

func NewValidator(cfg *config.DispatchConfig) *Validator {
	enums := make(map[string][]string, len(cfg.Enums))
	for name, values := range cfg.Enums {
		sorted := append([]string(nil), values...)
		sort.Strings(sorted)
		enums[name] = sorted
	}
	return &Validator{
		maxBytes: cfg.MaxPayloadBytes,
		bounds:   cfg.Bounds,
		enums:    enums,
		required: cfg.Required,
	}
}

func (v *Validator) Validate(kind entity.JobKind, payload []byte) error {
	if !kind.Valid() {
		return invalid("kind", "unknown job kind %q", kind)
	}
	if len(payload) == 0 {
		return invalid("payload", "must not be empty")
	}
	if v.maxBytes > 0 && len(payload) > v.maxBytes {
		return invalid("payload", "size %d exceeds limit of %d bytes", len(payload), v.maxBytes)
	}

	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil || fields == nil {
		return invalid("payload", "must be a JSON object")
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return invalid("payload", "must be a single JSON object")
	}

	for _, name := range v.required {
		if _, ok := fields[name]; !ok {
			return invalid(name, "is required")
		}
	}

	for _, name := range sortedKeys(v.bounds) {
		raw, ok := fields[name]
		if !ok || raw == nil {
			continue
		}
		num, ok := raw.(json.Number)
		if !ok {
			return invalid(name, "must be a number")
		}
		f, err := num.Float64()
		if err != nil {
			return invalid(name, "must be a number")
		}
		if r := v.bounds[name]; !r.Contains(f) {
			return invalid(name, "%s outside allowed range [%g, %g]", num.String(), r.Min, r.Max)
		}
	}

	for _, name := range sortedKeys(v.enums) {
		raw, ok := fields[name]
		if !ok || raw == nil {
			continue
		}
		s, ok := raw.(string)
		if !ok {
			return invalid(name, "must be a string")
		}
		allowed := v.enums[name]
		i := sort.SearchStrings(allowed, s)
		if i >= len(allowed) || allowed[i] != s {
			return invalid(name, "%q is not one of %s", s, strings.Join(allowed, ", "))
		}
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
