package table

import (
	"math"

	"github.com/askiada/go-cmodel/pkg/geom"
	"github.com/askiada/go-cmodel/pkg/shapelet"
)

// Record holds one value per schema field.
type Record struct {
	schema *Schema
	values []float64
}

func (r *Record) Schema() *Schema {
	return r.schema
}

func (r *Record) grow(k Key) {
	for len(r.values) <= k.index {
		f := r.schema.fields[len(r.values)]
		if f.Type == Float {
			r.values = append(r.values, math.NaN())
			continue
		}
		r.values = append(r.values, 0)
	}
}

func (r *Record) Set(k Key, v float64) {
	r.grow(k)
	r.values[k.index] = v
}

func (r *Record) Get(k Key) float64 {
	if k.index >= len(r.values) {
		if k.field.Type == Float {
			return math.NaN()
		}
		return 0
	}
	return r.values[k.index]
}

func (r *Record) SetFlag(k Key, v bool) {
	if v {
		r.Set(k, 1)
		return
	}
	r.Set(k, 0)
}

func (r *Record) GetFlag(k Key) bool {
	return r.Get(k) != 0
}

func (r *Record) SetInt(k Key, v int64) {
	r.Set(k, float64(v))
}

func (r *Record) GetInt(k Key) int64 {
	return int64(r.Get(k))
}

// SourceRecord is a detected source: its detection inputs and the output record.
type SourceRecord struct {
	ID        int64
	Footprint geom.Region
	Centroid  geom.Point2D
	// Shape is the measured second moments; ShapeFlag marks a failed measurement.
	Shape     geom.Quadrupole
	ShapeFlag bool
	PsfFlux   float64
	// PsfApprox is the Gaussian mixture approximating the PSF at the source.
	PsfApprox shapelet.MultiGaussian
	Record    *Record
}
