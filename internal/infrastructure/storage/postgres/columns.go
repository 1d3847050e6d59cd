package postgres

import (
	"reflect"
	"sync"
)

// column is a "db"-tagged field and its index path, which reaches into
// embedded structs such as entity.UnitKey in entity.UnitRecord.
type column struct {
	name  string
	index []int
}

var columnCache sync.Map // reflect.Type -> []column

func columnsOf(t reflect.Type) []column {
	if cached, ok := columnCache.Load(t); ok {
		return cached.([]column)
	}
	cols := collectColumns(t, nil)
	columnCache.Store(t, cols)
	return cols
}

// collectColumns walks fields in declaration order. Untagged fields are
// skipped, so nested values like entity.RecipeTarget are mapped by hand.
func collectColumns(t reflect.Type, prefix []int) []column {
	var cols []column
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		index := append(append([]int(nil), prefix...), i)
		if f.Anonymous && f.Type.Kind() == reflect.Struct {
			cols = append(cols, collectColumns(f.Type, index)...)
			continue
		}
		if tag := f.Tag.Get("db"); tag != "" && tag != "-" {
			cols = append(cols, column{name: tag, index: index})
		}
	}
	return cols
}

func structValue(v any) (reflect.Value, bool) {
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer {
		rv = rv.Elem()
	}
	return rv, rv.Kind() == reflect.Struct
}

// ExtractDBColumns lists the columns of T in field order.
func ExtractDBColumns[T any]() []string {
	t := reflect.TypeFor[T]()
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil
	}
	cols := columnsOf(t)
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.name
	}
	return names
}

// StructToMap maps column name to field value, for squirrel's SetMap.
// It returns nil for non-struct values.
func StructToMap(v any) map[string]any {
	rv, ok := structValue(v)
	if !ok {
		return nil
	}
	cols := columnsOf(rv.Type())
	out := make(map[string]any, len(cols))
	for _, c := range cols {
		out[c.name] = rv.FieldByIndex(c.index).Interface()
	}
	return out
}

// StructToRow returns the values of columns in the given order, for COPY.
// overrides replaces the value of a column whose field the binary protocol
// cannot encode as is.
func StructToRow(v any, columns []string, overrides map[string]any) []any {
	values := StructToMap(v)
	row := make([]any, len(columns))
	for i, name := range columns {
		if o, ok := overrides[name]; ok {
			row[i] = o
			continue
		}
		row[i] = values[name]
	}
	return row
}
