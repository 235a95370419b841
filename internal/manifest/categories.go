package manifest

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// CategoryOverride is a named group of keys sharing one override. The
// fixed category names in practice are "modifiers" and "delete", but the
// format allows arbitrary names.
type CategoryOverride struct {
	Name    string   `json:"-"`
	Keys    []string `json:"keys"`
	Keydown string   `json:"keydown,omitempty"`
	Volume  *float64 `json:"volume,omitempty"`
}

// CategoryOverrides preserves the manifest's declaration order. Categories
// are disjoint by convention only; when a key appears in more than one, the
// first declared match wins, so order must survive a load/save round trip.
type CategoryOverrides []CategoryOverride

// Get returns the category with the given name.
func (c CategoryOverrides) Get(name string) (*CategoryOverride, bool) {
	for i := range c {
		if c[i].Name == name {
			return &c[i], true
		}
	}
	return nil, false
}

// Set upserts a category, keeping its position when it already exists and
// appending otherwise.
func (c *CategoryOverrides) Set(cat CategoryOverride) {
	for i := range *c {
		if (*c)[i].Name == cat.Name {
			(*c)[i] = cat
			return
		}
	}
	*c = append(*c, cat)
}

// Remove deletes the named category. It reports whether it was present.
func (c *CategoryOverrides) Remove(name string) bool {
	for i := range *c {
		if (*c)[i].Name == name {
			*c = append((*c)[:i], (*c)[i+1:]...)
			return true
		}
	}
	return false
}

// Covering returns the name of the first declared category whose key set
// contains keyID.
func (c CategoryOverrides) Covering(keyID string) (string, bool) {
	for _, cat := range c {
		for _, k := range cat.Keys {
			if k == keyID {
				return cat.Name, true
			}
		}
	}
	return "", false
}

// categoryBody is the wire shape of one category value.
type categoryBody struct {
	Keys    []string `json:"keys"`
	Keydown string   `json:"keydown,omitempty"`
	Volume  *float64 `json:"volume,omitempty"`
}

// UnmarshalJSON decodes the category object while retaining the order the
// keys appear in the document.
func (c *CategoryOverrides) UnmarshalJSON(data []byte) error {
	*c = nil

	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		return nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("category_overrides: expected object, got %v", tok)
	}

	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		name, ok := tok.(string)
		if !ok {
			return fmt.Errorf("category_overrides: expected key, got %v", tok)
		}

		var body categoryBody
		if err := dec.Decode(&body); err != nil {
			return fmt.Errorf("category_overrides[%s]: %w", name, err)
		}

		*c = append(*c, CategoryOverride{
			Name:    name,
			Keys:    body.Keys,
			Keydown: body.Keydown,
			Volume:  body.Volume,
		})
	}

	// Consume the closing brace.
	if _, err := dec.Token(); err != nil {
		return err
	}

	return nil
}

// MarshalJSON encodes the categories as a JSON object in declaration order.
func (c CategoryOverrides) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')

	for i, cat := range c {
		if i > 0 {
			buf.WriteByte(',')
		}

		name, err := json.Marshal(cat.Name)
		if err != nil {
			return nil, err
		}
		buf.Write(name)
		buf.WriteByte(':')

		body, err := json.Marshal(categoryBody{
			Keys:    cat.Keys,
			Keydown: cat.Keydown,
			Volume:  cat.Volume,
		})
		if err != nil {
			return nil, err
		}
		buf.Write(body)
	}

	buf.WriteByte('}')

	return buf.Bytes(), nil
}
