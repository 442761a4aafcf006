// Package sqlitefn registers the SQL scalar functions wordhoard relies on with
// the modernc.org/sqlite driver and provides the float32 BLOB encoding used
// for vector columns.
//
// Registration is global to the driver and happens once per process; call
// [Register] before opening any connection that needs the functions.
package sqlitefn

import (
	"database/sql/driver"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"

	"golang.org/x/text/cases"
	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const (
	// CaseFold is casefold(text): the Unicode case-folded form of text.
	CaseFold = "casefold"

	// CosineDistance is vec_cosine_distance(a, b): 1 - cosine similarity of
	// two float32 BLOBs. A zero-magnitude operand yields distance 1.
	CosineDistance = "vec_cosine_distance"
)

var (
	registerOnce sync.Once
	registerErr  error
)

// Register installs [CaseFold] and [CosineDistance] with the driver. It is
// safe to call many times.
func Register() error {
	registerOnce.Do(func() {
		registerErr = errors.Join(
			sqlite.RegisterDeterministicScalarFunction(CaseFold, 1, caseFold),
			sqlite.RegisterDeterministicScalarFunction(CosineDistance, 2, cosineDistance),
		)
	})
	return registerErr
}

func caseFold(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	switch v := args[0].(type) {
	case nil:
		return nil, nil
	case string:
		return cases.Fold().String(v), nil
	case []byte:
		return cases.Fold().String(string(v)), nil
	default:
		return nil, fmt.Errorf("%s: unsupported argument type %T", CaseFold, v)
	}
}

func cosineDistance(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	a, err := blobArg(args[0])
	if err != nil {
		return nil, err
	}
	b, err := blobArg(args[1])
	if err != nil {
		return nil, err
	}
	if a == nil || b == nil {
		return nil, nil
	}
	return Cosine(a, b)
}

func blobArg(v driver.Value) ([]float32, error) {
	switch v := v.(type) {
	case nil:
		return nil, nil
	case []byte:
		return Decode(v)
	default:
		return nil, fmt.Errorf("%s: unsupported argument type %T, want BLOB", CosineDistance, v)
	}
}

// Encode packs vec as little-endian IEEE 754 float32 values without a length
// prefix.
func Encode(vec []float32) []byte {
	b := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(v))
	}
	return b
}

// Decode reverses [Encode].
func Decode(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("sqlitefn: vector blob length %d is not a multiple of 4", len(b))
	}
	vec := make([]float32, len(b)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return vec, nil
}

// Cosine returns the cosine distance 1 - cos(a, b). Vectors of different
// widths are an error; a zero-magnitude vector is at distance 1 from
// everything.
func Cosine(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("sqlitefn: cosine width mismatch %d vs %d", len(a), len(b))
	}
	var dot, na2, nb2 float64
	for i := range a {
		va, vb := float64(a[i]), float64(b[i])
		dot += va * vb
		na2 += va * va
		nb2 += vb * vb
	}
	if na2 == 0 || nb2 == 0 {
		return 1, nil
	}
	return 1 - dot/(math.Sqrt(na2)*math.Sqrt(nb2)), nil
}

// IsForeignKeyViolation reports whether err is a SQLite FOREIGN KEY
// constraint failure.
func IsForeignKeyViolation(err error) bool {
	return hasCode(err, sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY, "FOREIGN KEY constraint")
}

// IsNotNullViolation reports whether err is a SQLite NOT NULL constraint
// failure.
func IsNotNullViolation(err error) bool {
	return hasCode(err, sqlite3.SQLITE_CONSTRAINT_NOTNULL, "NOT NULL constraint")
}

// hasCode matches the extended result code, or the primary constraint code
// plus message when extended codes are off for the connection.
func hasCode(err error, extended int, marker string) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	if se.Code() == extended {
		return true
	}
	return se.Code()&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(se.Error(), marker)
}
