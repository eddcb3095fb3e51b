// Package domain contains core business entities and interfaces.
// This is the innermost layer in Clean Architecture - no external dependencies.
package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// DefaultProfileName is used when a compiled fragment does not name its profile.
const DefaultProfileName = "pkl"

// DefaultTitle is written to a target document that has no title yet.
const DefaultTitle = "Pklkb Generated Configuration"

// Profile is one named section of a Karabiner configuration document.
// Raw holds the complete profile object exactly as it appeared on disk or
// came out of the evaluator; untouched profiles are carried through
// byte-for-byte by re-emitting Raw.
type Profile struct {
	Name string
	Raw  json.RawMessage
}

// UnmarshalJSON captures the raw object and peeks at its name.
func (p *Profile) UnmarshalJSON(data []byte) error {
	var head struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return err
	}
	p.Name = head.Name
	p.Raw = append(json.RawMessage(nil), data...)
	return nil
}

// MarshalJSON emits the stored raw object unchanged.
func (p Profile) MarshalJSON() ([]byte, error) {
	if len(p.Raw) == 0 {
		return json.Marshal(map[string]string{"name": p.Name})
	}
	return p.Raw, nil
}

// Selected reports the profile's selected flag and whether it is present.
func (p Profile) Selected() (value bool, ok bool) {
	var head struct {
		Selected *bool `json:"selected"`
	}
	if err := json.Unmarshal(p.Raw, &head); err != nil || head.Selected == nil {
		return false, false
	}
	return *head.Selected, true
}

// SetSelected sets the selected flag on the profile. Only the top-level
// key set is rewritten; nested values keep their original bytes.
func (p *Profile) SetSelected(selected bool) error {
	return p.setField("selected", json.RawMessage(fmt.Sprintf("%t", selected)))
}

// SetName renames the profile.
func (p *Profile) SetName(name string) error {
	raw, err := json.Marshal(name)
	if err != nil {
		return err
	}
	if err := p.setField("name", raw); err != nil {
		return err
	}
	p.Name = name
	return nil
}

func (p *Profile) setField(key string, value json.RawMessage) error {
	fields := map[string]json.RawMessage{}
	if len(p.Raw) > 0 {
		if err := json.Unmarshal(p.Raw, &fields); err != nil {
			return err
		}
	}
	fields[key] = value
	raw, err := json.Marshal(fields)
	if err != nil {
		return err
	}
	p.Raw = raw
	return nil
}

// Clone returns a deep copy of the profile.
func (p Profile) Clone() Profile {
	return Profile{
		Name: p.Name,
		Raw:  append(json.RawMessage(nil), p.Raw...),
	}
}

// Document is a multi-profile Karabiner configuration. It is both the shape
// of the evaluator's compiled fragment and of the persisted target file.
// Unknown top-level keys (Karabiner's "global" block, for one) are carried
// losslessly in Extra.
type Document struct {
	Title    string
	Profiles []Profile
	Extra    map[string]json.RawMessage
}

// UnmarshalJSON tolerates a document without a profiles array; non-object
// input is an error.
func (d *Document) UnmarshalJSON(data []byte) error {
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}

	d.Title = ""
	d.Profiles = nil
	d.Extra = map[string]json.RawMessage{}

	for key, raw := range fields {
		switch key {
		case "title":
			if err := json.Unmarshal(raw, &d.Title); err != nil {
				return fmt.Errorf("title: %w", err)
			}
		case "profiles":
			if err := json.Unmarshal(raw, &d.Profiles); err != nil {
				return fmt.Errorf("profiles: %w", err)
			}
		default:
			d.Extra[key] = raw
		}
	}
	return nil
}

// MarshalJSON emits title (when set), profiles, and passthrough keys.
// Key order is deterministic because encoding/json sorts map keys.
func (d Document) MarshalJSON() ([]byte, error) {
	fields := map[string]json.RawMessage{}
	for key, raw := range d.Extra {
		fields[key] = raw
	}
	if d.Title != "" {
		raw, err := json.Marshal(d.Title)
		if err != nil {
			return nil, err
		}
		fields["title"] = raw
	}
	profiles := d.Profiles
	if profiles == nil {
		profiles = []Profile{}
	}
	raw, err := json.Marshal(profiles)
	if err != nil {
		return nil, err
	}
	fields["profiles"] = raw
	return json.Marshal(fields)
}

// Encode renders the document as indented JSON with a trailing newline,
// the format the downstream daemon and hand-editors expect.
func (d Document) Encode() ([]byte, error) {
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// FindProfile returns the index of the profile with the given name, or -1.
func (d Document) FindProfile(name string) int {
	for i, p := range d.Profiles {
		if p.Name == name {
			return i
		}
	}
	return -1
}

// Equal reports whether two documents encode to the same bytes.
func (d Document) Equal(other Document) bool {
	a, err := d.Encode()
	if err != nil {
		return false
	}
	b, err := other.Encode()
	if err != nil {
		return false
	}
	return bytes.Equal(a, b)
}

// Span is a byte range into evaluator source text, used for caret-style
// diagnostic display. Best effort: absent when the evaluator's stderr has
// no usable location.
type Span struct {
	Offset int
	Len    int
}

// ProcessInfo describes a running OS process, for status display.
type ProcessInfo struct {
	PID       int
	Name      string
	StartedAt int64 // unix millis
}
