package store

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind distinguishes the two record families that share the records table.
type Kind string

const (
	KindModel Kind = "model"
	KindWork  Kind = "work"
)

// Category partitions model records. Works carry no category; their
// partition is the single global work list.
type Category string

const (
	CategoryWomen         Category = "women"
	CategoryMen           Category = "men"
	CategoryInternational Category = "international"
)

// ValidCategory reports whether c is one of the fixed model categories.
func ValidCategory(c Category) bool {
	switch c {
	case CategoryWomen, CategoryMen, CategoryInternational:
		return true
	}
	return false
}

// FieldValue is a single display attribute: either a text value or a list
// of strings. The core moves these values around without interpreting them.
type FieldValue struct {
	Text   string
	List   []string
	IsList bool
}

func Text(s string) FieldValue       { return FieldValue{Text: s} }
func List(items []string) FieldValue { return FieldValue{List: items, IsList: true} }

func (v FieldValue) MarshalJSON() ([]byte, error) {
	if v.IsList {
		if v.List == nil {
			return json.Marshal([]string{})
		}
		return json.Marshal(v.List)
	}
	return json.Marshal(v.Text)
}

func (v *FieldValue) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*v = FieldValue{Text: s}
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*v = FieldValue{List: list, IsList: true}
		return nil
	}
	return fmt.Errorf("field value must be a string or a list of strings")
}

// DisplayFields maps attribute names (name, height, instagram, ...) to
// their values.
type DisplayFields map[string]FieldValue

// Clone returns a deep copy so callers can mutate without aliasing.
func (d DisplayFields) Clone() DisplayFields {
	if d == nil {
		return nil
	}
	out := make(DisplayFields, len(d))
	for k, v := range d {
		if v.IsList {
			v.List = append([]string(nil), v.List...)
		}
		out[k] = v
	}
	return out
}

// Record is a model or work entity. Records within a partition (a model
// category, or the global work list) form a doubly linked list via
// PrevID/NextID; the head has PrevID == nil and the tail NextID == nil.
type Record struct {
	ID        string        `json:"id"`
	Kind      Kind          `json:"kind"`
	Category  Category      `json:"category,omitempty"`
	Display   DisplayFields `json:"display"`
	Images    []string      `json:"images"`
	PrevID    *string       `json:"prevId"`
	NextID    *string       `json:"nextId"`
	CreatedAt time.Time     `json:"createdAt"`
	UpdatedAt time.Time     `json:"updatedAt"`
}

// ImagePath is the object-store path for one of the record's images.
// Filenames are unique within the record's namespace.
func (r Record) ImagePath(name string) string {
	return r.ID + "/" + name
}

// ContentEquals compares everything except the link pointers and
// timestamps. Used for write-skipping during reorders.
func (r Record) ContentEquals(other Record) bool {
	if r.ID != other.ID || r.Kind != other.Kind || r.Category != other.Category {
		return false
	}
	if len(r.Images) != len(other.Images) {
		return false
	}
	for i := range r.Images {
		if r.Images[i] != other.Images[i] {
			return false
		}
	}
	a, _ := json.Marshal(r.Display)
	b, _ := json.Marshal(other.Display)
	return string(a) == string(b)
}

// SignedURL is a time-limited read URL for an object-store file.
// Expires is a Unix-millisecond timestamp so the value survives the
// encrypted wire format unchanged.
type SignedURL struct {
	URL     string `json:"url"`
	Expires int64  `json:"expires"`
}

// Valid reports whether the entry is still usable at the given instant.
// Expired entries are treated identically to absent ones.
func (u SignedURL) Valid(now time.Time) bool {
	return u.URL != "" && u.Expires > now.UnixMilli()
}
