package engine

import (
	"fmt"

	json "github.com/goccy/go-json"
)

// Datatype identifies the physical type of a column.
type Datatype uint8

const (
	TypeBool Datatype = iota + 1
	TypeInt8
	TypeInt16
	TypeInt32
	TypeInt64
	TypeUint8
	TypeUint16
	TypeUint32
	TypeUint64
	TypeFloat32
	TypeFloat64
	TypeString
)

var datatypeNames = map[Datatype]string{
	TypeBool:    "bool",
	TypeInt8:    "int8",
	TypeInt16:   "int16",
	TypeInt32:   "int32",
	TypeInt64:   "int64",
	TypeUint8:   "uint8",
	TypeUint16:  "uint16",
	TypeUint32:  "uint32",
	TypeUint64:  "uint64",
	TypeFloat32: "float32",
	TypeFloat64: "float64",
	TypeString:  "string",
}

func (t Datatype) String() string {
	if name, ok := datatypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("datatype(%d)", uint8(t))
}

// Valid reports whether t is a known datatype.
func (t Datatype) Valid() bool {
	_, ok := datatypeNames[t]
	return ok
}

// FixedSize returns the encoded size of one cell in bytes, or -1 for
// variable-size types.
func (t Datatype) FixedSize() int {
	switch t {
	case TypeBool, TypeInt8, TypeUint8:
		return 1
	case TypeInt16, TypeUint16:
		return 2
	case TypeInt32, TypeUint32, TypeFloat32:
		return 4
	case TypeInt64, TypeUint64, TypeFloat64:
		return 8
	case TypeString:
		return -1
	default:
		return 0
	}
}

// MarshalJSON encodes the datatype as its name.
func (t Datatype) MarshalJSON() ([]byte, error) {
	name, ok := datatypeNames[t]
	if !ok {
		return nil, fmt.Errorf("unknown datatype %d", uint8(t))
	}
	return json.Marshal(name)
}

// UnmarshalJSON decodes a datatype from its name.
func (t *Datatype) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	for dt, n := range datatypeNames {
		if n == name {
			*t = dt
			return nil
		}
	}
	return fmt.Errorf("unknown datatype %q", name)
}

// Dimension describes one array dimension. Dimensions are int64 with an
// inclusive domain.
type Dimension struct {
	Name   string   `json:"name"`
	Domain [2]int64 `json:"domain"`
}

// Extent returns the number of coordinates in the domain. The result
// saturates at MaxInt64 when the domain covers the whole int64 range.
func (d Dimension) Extent() int64 {
	lo, hi := d.Domain[0], d.Domain[1]
	ext := uint64(hi) - uint64(lo) + 1
	if ext > 1<<63-1 {
		return 1<<63 - 1
	}
	return int64(ext)
}

// Attribute describes one array attribute.
type Attribute struct {
	Name string   `json:"name"`
	Type Datatype `json:"type"`
}

// Schema describes a sparse array: its dimensions, attributes, and write
// semantics. Schemas are immutable once the array is created.
type Schema struct {
	Dimensions      []Dimension     `json:"dimensions"`
	Attributes      []Attribute     `json:"attributes"`
	AllowDuplicates bool            `json:"allow_duplicates"`
	Compression     CompressionType `json:"compression"`
}

// Validate checks the schema for structural problems. Failures wrap
// ErrSchema.
func (s *Schema) Validate() error {
	if len(s.Dimensions) == 0 {
		return fmt.Errorf("%w: at least one dimension required", ErrSchema)
	}

	seen := make(map[string]struct{}, len(s.Dimensions)+len(s.Attributes))
	for _, d := range s.Dimensions {
		if d.Name == "" {
			return fmt.Errorf("%w: dimension with empty name", ErrSchema)
		}
		if _, dup := seen[d.Name]; dup {
			return fmt.Errorf("%w: duplicate column name %q", ErrSchema, d.Name)
		}
		seen[d.Name] = struct{}{}
		if d.Domain[0] > d.Domain[1] {
			return fmt.Errorf("%w: dimension %q has inverted domain", ErrSchema, d.Name)
		}
	}
	for _, a := range s.Attributes {
		if a.Name == "" {
			return fmt.Errorf("%w: attribute with empty name", ErrSchema)
		}
		if _, dup := seen[a.Name]; dup {
			return fmt.Errorf("%w: duplicate column name %q", ErrSchema, a.Name)
		}
		seen[a.Name] = struct{}{}
		if !a.Type.Valid() {
			return fmt.Errorf("%w: attribute %q has invalid type", ErrSchema, a.Name)
		}
	}
	if !s.Compression.Valid() {
		return fmt.Errorf("%w: invalid compression type", ErrSchema)
	}
	return nil
}

// Columns returns all column names, dimensions first.
func (s *Schema) Columns() []string {
	names := make([]string, 0, len(s.Dimensions)+len(s.Attributes))
	for _, d := range s.Dimensions {
		names = append(names, d.Name)
	}
	for _, a := range s.Attributes {
		names = append(names, a.Name)
	}
	return names
}

// ColumnType returns the datatype of the named column. Dimensions are
// always TypeInt64.
func (s *Schema) ColumnType(name string) (Datatype, bool) {
	for _, d := range s.Dimensions {
		if d.Name == name {
			return TypeInt64, true
		}
	}
	for _, a := range s.Attributes {
		if a.Name == name {
			return a.Type, true
		}
	}
	return 0, false
}

// IsDimension reports whether name is a dimension of the schema.
func (s *Schema) IsDimension(name string) bool {
	for _, d := range s.Dimensions {
		if d.Name == name {
			return true
		}
	}
	return false
}
