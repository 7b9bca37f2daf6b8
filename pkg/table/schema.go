package table

import (
	"math"
	"regexp"

	"github.com/pkg/errors"
)

var (
	ErrDuplicateField   = errors.New("field already exists")
	ErrFieldNotFound    = errors.New("field not found")
	ErrInvalidFieldName = errors.New("invalid field name")
)

var fieldName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// FieldType is the storage type of a field.
type FieldType int

const (
	Float FieldType = iota
	Flag
	Int
)

func (t FieldType) String() string {
	switch t {
	case Float:
		return "float"
	case Flag:
		return "flag"
	case Int:
		return "int"
	}
	return "unknown"
}

func (t FieldType) sqlType() string {
	if t == Float {
		return "REAL"
	}
	return "INTEGER"
}

type Field struct {
	Name string
	Doc  string
	Type FieldType
}

// Key addresses one field of records sharing a schema.
type Key struct {
	index int
	field Field
}

func (k Key) Name() string { return k.field.Name }

func (k Key) Type() FieldType { return k.field.Type }

// IsValid is false for the zero Key.
func (k Key) IsValid() bool { return k.field.Name != "" }

// Schema is an ordered list of named fields.
type Schema struct {
	fields []Field
	index  map[string]int
}

func NewSchema() *Schema {
	return &Schema{index: make(map[string]int)}
}

// AddField appends a field. Names must be valid SQL identifiers.
func (s *Schema) AddField(name, doc string, typ FieldType) (Key, error) {
	if !fieldName.MatchString(name) {
		return Key{}, errors.Wrapf(ErrInvalidFieldName, "%q", name)
	}
	if _, ok := s.index[name]; ok {
		return Key{}, errors.Wrapf(ErrDuplicateField, "%q", name)
	}
	f := Field{Name: name, Doc: doc, Type: typ}
	s.index[name] = len(s.fields)
	s.fields = append(s.fields, f)
	return Key{index: len(s.fields) - 1, field: f}, nil
}

func (s *Schema) Find(name string) (Key, error) {
	i, ok := s.index[name]
	if !ok {
		return Key{}, errors.Wrapf(ErrFieldNotFound, "%q", name)
	}
	return Key{index: i, field: s.fields[i]}, nil
}

// Fields returns a copy of the fields in insertion order.
func (s *Schema) Fields() []Field {
	out := make([]Field, len(s.fields))
	copy(out, s.fields)
	return out
}

func (s *Schema) Len() int {
	return len(s.fields)
}

// NewRecord returns a record with floats set to NaN and flags and ints to zero.
func (s *Schema) NewRecord() *Record {
	r := &Record{schema: s, values: make([]float64, len(s.fields))}
	for i, f := range s.fields {
		if f.Type == Float {
			r.values[i] = math.NaN()
		}
	}
	return r
}
