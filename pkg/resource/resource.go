// Package resource wraps the JSON description of a platform resource.
//
// A Resource keeps the description as returned by the backend, key order
// included. Reads and writes go through explicit accessors: hidden keys are
// invisible, immutable keys reject writes, and every change is tracked against
// the snapshot taken when the resource was decoded.
//
// A Resource is not safe for concurrent mutation.
package resource

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// ErrImmutableAttribute is returned when writing an immutable key.
var ErrImmutableAttribute = errors.New("resource: immutable attribute")

// ErrNotObject is returned when a description is not a JSON object.
var ErrNotObject = errors.New("resource: description is not a JSON object")

var (
	baseImmutable = []string{"_id", "id"}
	baseHidden    = []string{"__v"}
)

// Option customizes a Resource.
type Option func(*Resource)

// WithName sets the kind shown by String, for example "project".
func WithName(name string) Option {
	return func(r *Resource) { r.name = name }
}

// WithHidden hides keys from Get, Keys and Equal.
func WithHidden(keys ...string) Option {
	return func(r *Resource) {
		for _, k := range keys {
			r.hidden[k] = struct{}{}
		}
	}
}

// WithImmutable makes keys read-only.
func WithImmutable(keys ...string) Option {
	return func(r *Resource) {
		for _, k := range keys {
			r.immutable[k] = struct{}{}
		}
	}
}

// Resource is a mutation-tracked JSON object.
type Resource struct {
	id   string
	name string

	desc []byte
	ori  []byte

	hidden    map[string]struct{}
	immutable map[string]struct{}
}

// New creates a resource with the given identifier. desc may be raw JSON
// ([]byte, json.RawMessage, string) or any value encoding to a JSON object.
func New(id string, desc any, opts ...Option) (*Resource, error) {
	raw, err := encode(desc)
	if err != nil {
		return nil, err
	}
	return newResource(id, raw, opts), nil
}

// Decode parses a resource description. The identifier is taken from "_id",
// falling back to "id".
func Decode(data []byte, opts ...Option) (*Resource, error) {
	raw, err := encode(data)
	if err != nil {
		return nil, err
	}
	id := gjson.GetBytes(raw, "_id").String()
	if id == "" {
		id = gjson.GetBytes(raw, "id").String()
	}
	return newResource(id, raw, opts), nil
}

// DecodeList parses a JSON array of resource descriptions.
func DecodeList(data []byte, opts ...Option) ([]*Resource, error) {
	list := gjson.ParseBytes(data)
	if !list.IsArray() {
		return nil, fmt.Errorf("resource: expected a JSON array, got %s", list.Type)
	}

	var out []*Resource
	var err error
	list.ForEach(func(_, item gjson.Result) bool {
		var r *Resource
		if r, err = Decode([]byte(item.Raw), opts...); err != nil {
			return false
		}
		out = append(out, r)
		return true
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func newResource(id string, raw []byte, opts []Option) *Resource {
	r := &Resource{
		id:        id,
		desc:      raw,
		ori:       bytes.Clone(raw),
		hidden:    make(map[string]struct{}),
		immutable: make(map[string]struct{}),
	}
	WithHidden(baseHidden...)(r)
	WithImmutable(baseImmutable...)(r)
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func encode(desc any) ([]byte, error) {
	var raw []byte
	switch v := desc.(type) {
	case nil:
		raw = []byte("{}")
	case []byte:
		raw = bytes.Clone(v)
	case json.RawMessage:
		raw = bytes.Clone(v)
	case string:
		raw = []byte(v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("resource: encode description: %w", err)
		}
		raw = b
	}
	if !gjson.ValidBytes(raw) || !gjson.ParseBytes(raw).IsObject() {
		return nil, ErrNotObject
	}
	return raw, nil
}

// ID returns the resource identifier.
func (r *Resource) ID() string { return r.id }

// Name returns the resource kind, if known.
func (r *Resource) Name() string { return r.name }

// String implements fmt.Stringer.
func (r *Resource) String() string {
	if r.name != "" {
		return fmt.Sprintf("<resource with id %s (%s)>", r.id, r.name)
	}
	return fmt.Sprintf("<resource with id %s>", r.id)
}

// field returns the top-level value of key, looked up without path syntax so
// keys containing dots work as is.
func (r *Resource) field(key string) (gjson.Result, bool) {
	var found gjson.Result
	ok := false
	gjson.ParseBytes(r.desc).ForEach(func(k, v gjson.Result) bool {
		if k.String() == key {
			found, ok = v, true
			return false
		}
		return true
	})
	return found, ok
}

func (r *Resource) isHidden(key string) bool {
	_, ok := r.hidden[key]
	return ok
}

// Get returns the decoded value of key. Hidden keys are reported missing.
// "id" always resolves to the resource identifier.
func (r *Resource) Get(key string) (any, bool) {
	if key == "id" {
		return r.id, true
	}
	if r.isHidden(key) {
		return nil, false
	}
	v, ok := r.field(key)
	if !ok {
		return nil, false
	}
	return v.Value(), true
}

// GetString returns key as a string, or "" when missing or hidden.
func (r *Resource) GetString(key string) string {
	if key == "id" {
		return r.id
	}
	if r.isHidden(key) {
		return ""
	}
	v, _ := r.field(key)
	return v.String()
}

// Lookup returns the value at a dotted path such as "dataset.source.id".
// The first component obeys the hidden keys.
func (r *Resource) Lookup(path string) (any, bool) {
	first, _, _ := strings.Cut(path, ".")
	if r.isHidden(first) {
		return nil, false
	}
	v := gjson.GetBytes(r.desc, path)
	if !v.Exists() {
		return nil, false
	}
	return v.Value(), true
}

// Unmarshal decodes the value of key into out.
func (r *Resource) Unmarshal(key string, out any) error {
	if r.isHidden(key) {
		return fmt.Errorf("resource: no attribute %q", key)
	}
	v, ok := r.field(key)
	if !ok {
		return fmt.Errorf("resource: no attribute %q", key)
	}
	return json.Unmarshal([]byte(v.Raw), out)
}

// Set writes key, appending it when new. Immutable keys are rejected.
func (r *Resource) Set(key string, value any) error {
	if _, ok := r.immutable[key]; ok {
		return fmt.Errorf("%w: %s", ErrImmutableAttribute, key)
	}
	desc, err := sjson.SetBytes(r.desc, escape(key), value)
	if err != nil {
		return fmt.Errorf("resource: set %q: %w", key, err)
	}
	r.desc = desc
	return nil
}

// Delete removes key. Immutable keys are rejected.
func (r *Resource) Delete(key string) error {
	if _, ok := r.immutable[key]; ok {
		return fmt.Errorf("%w: %s", ErrImmutableAttribute, key)
	}
	desc, err := sjson.DeleteBytes(r.desc, escape(key))
	if err != nil {
		return fmt.Errorf("resource: delete %q: %w", key, err)
	}
	r.desc = desc
	return nil
}

// Keys returns the visible keys in description order, followed by "id".
func (r *Resource) Keys() []string {
	var keys []string
	gjson.ParseBytes(r.desc).ForEach(func(k, _ gjson.Result) bool {
		if key := k.String(); !r.isHidden(key) && key != "id" {
			keys = append(keys, key)
		}
		return true
	})
	return append(keys, "id")
}

// Diff returns the dotted paths that differ from the decoded snapshot:
// updated and removed paths first, in snapshot order, then added ones.
func (r *Resource) Diff() []string {
	cur, curKeys := flatten(r.desc)
	ori, oriKeys := flatten(r.ori)

	var changes []string
	for _, p := range oriKeys {
		v, ok := cur[p]
		if !ok || !reflect.DeepEqual(ori[p].Value(), v.Value()) {
			changes = append(changes, p)
		}
	}
	for _, p := range curKeys {
		if _, ok := ori[p]; !ok {
			changes = append(changes, p)
		}
	}
	return changes
}

// Changed reports whether any path starting with prefix changed.
func (r *Resource) Changed(prefix string) bool {
	return slices.ContainsFunc(r.Diff(), func(p string) bool {
		return strings.HasPrefix(p, prefix)
	})
}

// Commit makes the current description the new snapshot, typically after the
// backend accepted an update.
func (r *Resource) Commit() {
	r.ori = bytes.Clone(r.desc)
}

// Equal reports whether both resources have the same identifier and the same
// visible attributes. Key order is ignored.
func (r *Resource) Equal(o *Resource) bool {
	if r == nil || o == nil {
		return r == o
	}
	if r.id != o.id {
		return false
	}
	return reflect.DeepEqual(r.visible(), o.visible())
}

func (r *Resource) visible() map[string]any {
	out := make(map[string]any)
	gjson.ParseBytes(r.desc).ForEach(func(k, v gjson.Result) bool {
		if !r.isHidden(k.String()) {
			out[k.String()] = v.Value()
		}
		return true
	})
	return out
}

// Raw returns a copy of the full description, hidden keys included.
func (r *Resource) Raw() json.RawMessage {
	return bytes.Clone(r.desc)
}

// MarshalJSON returns the full description, hidden keys included.
func (r *Resource) MarshalJSON() ([]byte, error) {
	return r.Raw(), nil
}

// flatten maps every leaf of a JSON object to its dotted path. Arrays are
// leaves. The slice keeps document order.
func flatten(raw []byte) (map[string]gjson.Result, []string) {
	leaves := make(map[string]gjson.Result)
	var order []string

	var walk func(prefix string, v gjson.Result)
	walk = func(prefix string, v gjson.Result) {
		v.ForEach(func(k, child gjson.Result) bool {
			p := k.String()
			if prefix != "" {
				p = prefix + "." + p
			}
			if child.IsObject() {
				walk(p, child)
				return true
			}
			if _, dup := leaves[p]; !dup {
				order = append(order, p)
			}
			leaves[p] = child
			return true
		})
	}
	walk("", gjson.ParseBytes(raw))
	return leaves, order
}

// escape turns a key into a single sjson path component.
func escape(key string) string {
	var b strings.Builder
	for _, c := range key {
		switch c {
		case '.', '*', '?', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(c)
	}
	return b.String()
}
