package element

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/url"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"scrapekit/internal/scrape/filters"

	"github.com/shopspring/decimal"
)

var ErrAssign = errors.New("cannot assign")

var (
	decimalType = reflect.TypeFor[decimal.Decimal]()
	urlPtrType  = reflect.TypeFor[*url.URL]()
	timeType    = reflect.TypeFor[time.Time]()
)

// fieldIndexes caches, per struct type, the field index of every normalized name.
var fieldIndexes sync.Map

func normalizeName(name string) string {
	return strings.ToLower(strings.ReplaceAll(name, "_", ""))
}

func structFields(t reflect.Type) map[string][]int {
	if cached, ok := fieldIndexes.Load(t); ok {
		return cached.(map[string][]int)
	}

	out := map[string][]int{}
	tagged := map[string][]int{}
	for _, f := range reflect.VisibleFields(t) {
		if !f.IsExported() || f.Anonymous {
			continue
		}
		if tag, ok := f.Tag.Lookup("obj"); ok && tag != "" && tag != "-" {
			tagged[tag] = f.Index
			continue
		}
		out[normalizeName(f.Name)] = f.Index
	}
	for name, idx := range tagged {
		out["tag:"+name] = idx
	}

	fieldIndexes.Store(t, out)
	return out
}

// assign stores value in the field called name of the object obj points to.
// Struct fields are found by their `obj` tag, then by name ignoring case and underscores.
func assign(obj any, name string, value any) error {
	target := reflect.ValueOf(obj).Elem()
	if target.Kind() == reflect.Pointer {
		if target.IsNil() {
			target.Set(reflect.New(target.Type().Elem()))
		}
		target = target.Elem()
	}

	switch target.Kind() {
	case reflect.Map:
		if target.Type().Key().Kind() != reflect.String {
			return fmt.Errorf("%w: map key of %s is not a string", ErrAssign, target.Type())
		}
		if target.IsNil() {
			target.Set(reflect.MakeMap(target.Type()))
		}
		elem := reflect.New(target.Type().Elem()).Elem()
		err := setValue(elem, value)
		if err != nil {
			return err
		}
		target.SetMapIndex(reflect.ValueOf(name).Convert(target.Type().Key()), elem)
		return nil
	case reflect.Struct:
		fields := structFields(target.Type())
		idx, ok := fields["tag:"+name]
		if !ok {
			idx, ok = fields[normalizeName(name)]
		}
		if !ok {
			return fmt.Errorf("%w: %s has no field %q", ErrAssign, target.Type(), name)
		}
		return setValue(target.FieldByIndex(idx), value)
	}
	return fmt.Errorf("%w: %s is neither a struct nor a map", ErrAssign, target.Type())
}

func setValue(field reflect.Value, value any) error {
	if value == nil {
		field.SetZero()
		return nil
	}

	v := reflect.ValueOf(value)
	ft := field.Type()

	if v.Type().AssignableTo(ft) {
		field.Set(v)
		return nil
	}
	if ft.Kind() == reflect.Pointer && ft != urlPtrType {
		ptr := reflect.New(ft.Elem())
		err := setValue(ptr.Elem(), value)
		if err != nil {
			return err
		}
		field.Set(ptr)
		return nil
	}

	switch {
	case ft == decimalType:
		d, err := filters.ParseDecimal(filters.TextOf(value), "", "")
		if err != nil {
			return fmt.Errorf("%w: %v", ErrAssign, err)
		}
		field.Set(reflect.ValueOf(d))
		return nil
	case ft == urlPtrType:
		u, err := url.Parse(filters.TextOf(value))
		if err != nil {
			return fmt.Errorf("%w: %v", ErrAssign, err)
		}
		field.Set(reflect.ValueOf(u))
		return nil
	case ft == timeType:
		return fmt.Errorf("%w: %T to time.Time, use a date filter", ErrAssign, value)
	}

	switch ft.Kind() {
	case reflect.String:
		field.SetString(filters.TextOf(value))
		return nil
	case reflect.Bool:
		b, err := strconv.ParseBool(filters.TextOf(value))
		if err != nil {
			return fmt.Errorf("%w: %v", ErrAssign, err)
		}
		field.SetBool(b)
		return nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := toInt(value)
		if err != nil {
			return err
		}
		if field.OverflowInt(n) {
			return fmt.Errorf("%w: %d overflows %s", ErrAssign, n, ft)
		}
		field.SetInt(n)
		return nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := toInt(value)
		if err != nil {
			return err
		}
		if n < 0 || field.OverflowUint(uint64(n)) {
			return fmt.Errorf("%w: %d overflows %s", ErrAssign, n, ft)
		}
		field.SetUint(uint64(n))
		return nil
	case reflect.Float32, reflect.Float64:
		f, err := toFloat(value)
		if err != nil {
			return err
		}
		field.SetFloat(f)
		return nil
	case reflect.Slice:
		if v.Kind() != reflect.Slice && v.Kind() != reflect.Array {
			break
		}
		out := reflect.MakeSlice(ft, v.Len(), v.Len())
		for i := range v.Len() {
			err := setValue(out.Index(i), v.Index(i).Interface())
			if err != nil {
				return err
			}
		}
		field.Set(out)
		return nil
	case reflect.Interface:
		if v.Type().Implements(ft) {
			field.Set(v)
			return nil
		}
	}
	return fmt.Errorf("%w: %T to %s", ErrAssign, value, ft)
}

func toInt(value any) (int64, error) {
	switch t := value.(type) {
	case decimal.Decimal:
		return t.IntPart(), nil
	case json.Number:
		n, err := t.Int64()
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrAssign, err)
		}
		return n, nil
	case float64:
		return int64(t), nil
	}
	v := reflect.ValueOf(value)
	switch {
	case v.CanInt():
		return v.Int(), nil
	case v.CanUint():
		if v.Uint() > math.MaxInt64 {
			return 0, fmt.Errorf("%w: %d overflows int64", ErrAssign, v.Uint())
		}
		return int64(v.Uint()), nil
	}
	n, err := strconv.ParseInt(strings.ReplaceAll(filters.TextOf(value), " ", ""), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrAssign, err)
	}
	return n, nil
}

func toFloat(value any) (float64, error) {
	switch t := value.(type) {
	case decimal.Decimal:
		return t.InexactFloat64(), nil
	case json.Number:
		return t.Float64()
	}
	v := reflect.ValueOf(value)
	switch {
	case v.CanFloat():
		return v.Float(), nil
	case v.CanInt():
		return float64(v.Int()), nil
	}
	f, err := strconv.ParseFloat(filters.TextOf(value), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrAssign, err)
	}
	return f, nil
}
