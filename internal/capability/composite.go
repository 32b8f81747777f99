package capability

import "strings"

// Separator joins parent and child in a composite identifier. Entity names
// are assumed not to contain it; nothing escapes or validates this.
const Separator = "::"

// EncodeComposite returns "parent::child".
func EncodeComposite(parent, child string) string {
	return parent + Separator + child
}

// CompositeLabel returns the display form "parent → child".
func CompositeLabel(parent, child string) string {
	return parent + " → " + child
}

// DecodeComposite splits id at the first separator. A parent name that
// contained the separator would be split in the wrong place; the child
// keeps everything after the first occurrence.
func DecodeComposite(id string) (parent, child string, ok bool) {
	return strings.Cut(id, Separator)
}

// CompositeTarget names the input fields addressing a child entity through
// its parent, e.g. sceneName + itemName.
type CompositeTarget struct {
	ParentField string
	ChildField  string
	// ParentMayCarryChild also accepts the composite id in the parent
	// field; an explicit child value still wins.
	ParentMayCarryChild bool
}

// Resolve returns a copy of f with the composite id decoded into the
// parent and child fields. Plain ids pass through unchanged.
func (t CompositeTarget) Resolve(f Fields) Fields {
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}

	if parent, child, ok := DecodeComposite(f[t.ChildField]); ok {
		out[t.ParentField] = parent
		out[t.ChildField] = child
		return out
	}
	if t.ParentMayCarryChild {
		if parent, child, ok := DecodeComposite(f[t.ParentField]); ok {
			out[t.ParentField] = parent
			if f[t.ChildField] == "" {
				out[t.ChildField] = child
			}
		}
	}
	return out
}
