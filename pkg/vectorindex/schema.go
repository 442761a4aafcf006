package vectorindex

import (
	"fmt"

	"github.com/MrWong99/wordhoard/pkg/embedding"
)

// SchemaError reports a vector table whose persisted schema marker or
// physical layout is incompatible with the embedding registry. It is fatal at
// start-up; there is no automatic migration.
type SchemaError struct {
	Table  string
	Column string
	Reason string
}

func (e *SchemaError) Error() string {
	if e.Column == "" {
		return fmt.Sprintf("vectorindex: table %s: %s", e.Table, e.Reason)
	}
	return fmt.Sprintf("vectorindex: table %s column %s: %s", e.Table, e.Column, e.Reason)
}

// Marker is one row of the schema marker table: the binding of a physical
// vector column to the embedding function that populates it.
type Marker struct {
	Column       string
	RegistryName string
	SourceColumn string
	Dimensions   int
	Metric       string
}

// MarkerTable returns the name of the marker table for table.
func MarkerTable(table string) string { return table + "_schema" }

// Markers returns the markers describing reg.
func Markers(reg *embedding.Registry) []Marker {
	regs := reg.Registrations()
	out := make([]Marker, len(regs))
	for i, r := range regs {
		out[i] = Marker{
			Column:       r.Columns.Destination,
			RegistryName: r.Name,
			SourceColumn: r.Columns.Source,
			Dimensions:   r.Dimensions(),
			Metric:       Metric,
		}
	}
	return out
}

// PhysicalColumn describes a column found in an existing vector table.
type PhysicalColumn struct {
	// Vector is true when the column's type can hold a vector.
	Vector bool

	// Width is the declared vector width, or 0 when the database does not
	// record one.
	Width int
}

// Verify checks an existing table against reg. markers are the rows read
// from the marker table and columns the physical columns of the vector
// table. The first incompatibility is returned as a [*SchemaError].
func Verify(table string, reg *embedding.Registry, markers []Marker, columns map[string]PhysicalColumn) error {
	byColumn := make(map[string]Marker, len(markers))
	for _, m := range markers {
		byColumn[m.Column] = m
	}
	fail := func(col, format string, args ...any) error {
		return &SchemaError{Table: table, Column: col, Reason: fmt.Sprintf(format, args...)}
	}

	for _, want := range Markers(reg) {
		got, ok := byColumn[want.Column]
		if !ok {
			return fail(want.Column, "no schema marker for registration %q", want.RegistryName)
		}
		if got.RegistryName != want.RegistryName {
			return fail(want.Column, "marker bound to %q, registry binds %q", got.RegistryName, want.RegistryName)
		}
		if got.SourceColumn != want.SourceColumn {
			return fail(want.Column, "marker source column %q, registry uses %q", got.SourceColumn, want.SourceColumn)
		}
		if got.Dimensions != want.Dimensions {
			return fail(want.Column, "marker declares %d dimensions, function produces %d", got.Dimensions, want.Dimensions)
		}
		if got.Metric != want.Metric {
			return fail(want.Column, "marker metric %q, index uses %q", got.Metric, want.Metric)
		}
		phys, ok := columns[want.Column]
		if !ok {
			return fail(want.Column, "column missing from table")
		}
		if !phys.Vector {
			return fail(want.Column, "column is not a vector column")
		}
		if phys.Width != 0 && phys.Width != want.Dimensions {
			return fail(want.Column, "physical width %d, function produces %d", phys.Width, want.Dimensions)
		}
		if _, ok := columns[want.SourceColumn]; !ok {
			return fail(want.SourceColumn, "source column missing from table")
		}
		delete(byColumn, want.Column)
	}

	for col, m := range byColumn {
		return fail(col, "marker bound to unregistered function %q", m.RegistryName)
	}
	return nil
}
