// Package usecase implements the compile-merge-write pipeline.
package usecase

import (
	"encoding/json"
	"os"

	"github.com/eliteGoblin/pklkb/internal/domain"
)

// LoadDocument reads the target document from disk. A missing file or a
// document without profiles yields an empty document; unreadable or
// non-JSON content is fatal.
func LoadDocument(path string) (*domain.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &domain.Document{Extra: map[string]json.RawMessage{}}, nil
		}
		return nil, &domain.ReadError{Path: path, Err: err}
	}

	var doc domain.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, &domain.ValidationError{Message: "existing document at " + path + " is not valid JSON: " + err.Error()}
	}
	return &doc, nil
}

// Merge reconciles a freshly compiled fragment into an existing target
// document and returns the updated document. Only the profile named by the
// fragment is touched:
//
//   - same-named existing profile: replaced in place, carrying over its
//     selected flag (operator state that must survive recompilation);
//   - no match: the incoming profile is appended, explicitly unselected
//     unless the fragment set its own value, so a fresh profile can never
//     hijack the active selection.
//
// All other profiles pass through byte-for-byte. The document title is set
// only when absent.
func Merge(existing *domain.Document, fragment *domain.Document) (*domain.Document, error) {
	if len(fragment.Profiles) == 0 {
		return nil, &domain.ValidationError{Message: "compiled fragment has no profiles"}
	}

	incoming := fragment.Profiles[0].Clone()
	if incoming.Name == "" {
		if err := incoming.SetName(domain.DefaultProfileName); err != nil {
			return nil, &domain.ValidationError{Message: err.Error()}
		}
	}

	merged := &domain.Document{
		Title:    existing.Title,
		Profiles: append([]domain.Profile(nil), existing.Profiles...),
		Extra:    existing.Extra,
	}

	if idx := merged.FindProfile(incoming.Name); idx >= 0 {
		if selected, ok := merged.Profiles[idx].Selected(); ok {
			if err := incoming.SetSelected(selected); err != nil {
				return nil, &domain.ValidationError{Message: err.Error()}
			}
		}
		merged.Profiles[idx] = incoming
	} else {
		if _, ok := incoming.Selected(); !ok {
			if err := incoming.SetSelected(false); err != nil {
				return nil, &domain.ValidationError{Message: err.Error()}
			}
		}
		merged.Profiles = append(merged.Profiles, incoming)
	}

	if merged.Title == "" {
		merged.Title = fragment.Title
		if merged.Title == "" {
			merged.Title = domain.DefaultTitle
		}
	}
	return merged, nil
}
