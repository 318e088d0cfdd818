package storage

import (
	"fmt"
	"strings"
)

// Top-level field names of a profile document.
const (
	FieldID       = "_id"
	FieldBucket   = "bucket"
	FieldServices = "services"
)

// Document is the persisted form of a profile. Attribute keys are stored in
// their encoded form; service names are stored as-is.
type Document struct {
	ID       uint64                       `json:"_id"`
	Bucket   map[string]string            `json:"bucket"`
	Services map[string]map[string]string `json:"services"`
}

// Path addresses a field inside a Document as a list of segments.
//
// Valid shapes:
//
//	bucket/<key>
//	services/<service>
//	services/<service>/<key>
type Path []string

// BucketPath addresses one global attribute.
func BucketPath(key string) Path { return Path{FieldBucket, key} }

// ServicePath addresses one attribute of a service overlay.
func ServicePath(service, key string) Path { return Path{FieldServices, service, key} }

// ServiceRoot addresses a whole service overlay.
func ServiceRoot(service string) Path { return Path{FieldServices, service} }

// String joins the segments with '.', the dotted notation document stores use.
func (p Path) String() string { return strings.Join(p, ".") }

// Assignment sets one field to a value.
type Assignment struct {
	Path  Path
	Value string
}

// Update is a combined set/unset instruction against a single document.
type Update struct {
	Set   []Assignment
	Unset []Path
}

// Empty reports whether the update carries no instructions.
func (u Update) Empty() bool { return len(u.Set) == 0 && len(u.Unset) == 0 }

// Validate checks that every path has a shape Apply understands.
func (u Update) Validate() error {
	for _, a := range u.Set {
		if len(a.Path) == 2 && a.Path[0] == FieldBucket {
			continue
		}
		if len(a.Path) == 3 && a.Path[0] == FieldServices {
			continue
		}
		return fmt.Errorf("%w: set %s", ErrInvalidPath, a.Path)
	}
	for _, p := range u.Unset {
		if len(p) == 2 && (p[0] == FieldBucket || p[0] == FieldServices) {
			continue
		}
		if len(p) == 3 && p[0] == FieldServices {
			continue
		}
		return fmt.Errorf("%w: unset %s", ErrInvalidPath, p)
	}
	return nil
}

// Apply mutates d in place. Unsets run before sets, so a path present in
// both halves ends up set.
func (d *Document) Apply(u Update) error {
	if err := u.Validate(); err != nil {
		return err
	}
	d.normalize()

	for _, p := range u.Unset {
		switch {
		case p[0] == FieldBucket:
			delete(d.Bucket, p[1])
		case len(p) == 2:
			delete(d.Services, p[1])
		default:
			if overlay, ok := d.Services[p[1]]; ok {
				delete(overlay, p[2])
			}
		}
	}

	for _, a := range u.Set {
		if a.Path[0] == FieldBucket {
			d.Bucket[a.Path[1]] = a.Value
			continue
		}
		overlay, ok := d.Services[a.Path[1]]
		if !ok {
			overlay = make(map[string]string)
			d.Services[a.Path[1]] = overlay
		}
		overlay[a.Path[2]] = a.Value
	}
	return nil
}

// Project returns a copy of d that only carries the requested paths.
// Paths that are absent from d are skipped. A services/<service> path
// projects the whole overlay.
func (d Document) Project(projection []Path) (Document, error) {
	out := Document{ID: d.ID}
	for _, p := range projection {
		switch {
		case len(p) == 2 && p[0] == FieldBucket:
			if v, ok := d.Bucket[p[1]]; ok {
				if out.Bucket == nil {
					out.Bucket = make(map[string]string)
				}
				out.Bucket[p[1]] = v
			}
		case len(p) == 2 && p[0] == FieldServices:
			if overlay, ok := d.Services[p[1]]; ok {
				if out.Services == nil {
					out.Services = make(map[string]map[string]string)
				}
				out.Services[p[1]] = cloneMap(overlay)
			}
		case len(p) == 3 && p[0] == FieldServices:
			v, ok := d.Services[p[1]][p[2]]
			if !ok {
				continue
			}
			if out.Services == nil {
				out.Services = make(map[string]map[string]string)
			}
			if out.Services[p[1]] == nil {
				out.Services[p[1]] = make(map[string]string)
			}
			out.Services[p[1]][p[2]] = v
		default:
			return Document{}, fmt.Errorf("%w: project %s", ErrInvalidPath, p)
		}
	}
	return out, nil
}

// Clone returns a deep copy of d.
func (d Document) Clone() Document {
	out := Document{ID: d.ID, Bucket: cloneMap(d.Bucket)}
	if d.Services != nil {
		out.Services = make(map[string]map[string]string, len(d.Services))
		for name, overlay := range d.Services {
			out.Services[name] = cloneMap(overlay)
		}
	}
	return out
}

// Overlay returns the stored attributes of one service, or nil.
func (d Document) Overlay(service string) map[string]string {
	return d.Services[service]
}

// normalize replaces nil maps with empty ones so stored documents always
// carry both top-level fields.
func (d *Document) normalize() {
	if d.Bucket == nil {
		d.Bucket = make(map[string]string)
	}
	if d.Services == nil {
		d.Services = make(map[string]map[string]string)
	}
}

func cloneMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Normalized returns d with nil top-level maps replaced by empty ones.
func (d Document) Normalized() Document {
	d.normalize()
	return d
}
