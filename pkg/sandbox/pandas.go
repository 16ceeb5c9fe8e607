package sandbox

import (
	"strconv"
	"strings"
	"time"

	"github.com/dop251/goja"
	"github.com/go-go-golems/tablechat/pkg/tabular"
	"github.com/pkg/errors"
)

// frameIDKey is a hidden property linking a JS frame object to its table.
const frameIDKey = "__frame_id"

func (r *runtime) installPandas() error {
	pd := r.vm.NewObject()

	if err := pd.Set("DataFrame", func(call goja.FunctionCall) goja.Value {
		t, err := r.tableFromValue(call.Argument(0))
		if err != nil {
			panic(r.vm.NewTypeError("DataFrame: %s", err.Error()))
		}
		return r.wrapFrame(t)
	}); err != nil {
		return err
	}

	if err := pd.Set("dateRange", func(call goja.FunctionCall) goja.Value {
		start := strings.TrimSpace(call.Argument(0).String())
		periods := int(call.Argument(1).ToInteger())
		freq := "D"
		if arg := call.Argument(2); !goja.IsUndefined(arg) && !goja.IsNull(arg) {
			freq = strings.ToUpper(strings.TrimSpace(arg.String()))
		}
		dates, err := dateRange(start, periods, freq)
		if err != nil {
			panic(r.vm.NewTypeError("dateRange: %s", err.Error()))
		}
		return r.vm.NewArray(dates...)
	}); err != nil {
		return err
	}

	if err := pd.Set("concat", func(call goja.FunctionCall) goja.Value {
		var out *tabular.Table
		for _, arg := range call.Arguments {
			obj, ok := arg.(*goja.Object)
			if !ok {
				panic(r.vm.NewTypeError("concat: arguments must be DataFrames"))
			}
			t := r.frameOf(obj)
			if t == nil {
				panic(r.vm.NewTypeError("concat: arguments must be DataFrames"))
			}
			if out == nil {
				out = tabular.New(t.Columns...)
			}
			if strings.Join(out.Columns, "\x00") != strings.Join(t.Columns, "\x00") {
				panic(r.vm.NewTypeError("concat: column mismatch"))
			}
			out.Rows = append(out.Rows, copyRows(t.Rows)...)
		}
		if out == nil {
			out = tabular.New()
		}
		return r.wrapFrame(out)
	}); err != nil {
		return err
	}

	return r.vm.Set("pd", pd)
}

// tableFromValue accepts an object of columns (arrays or scalars to
// broadcast), an array of records, or another frame.
func (r *runtime) tableFromValue(v goja.Value) (*tabular.Table, error) {
	obj, ok := v.(*goja.Object)
	if !ok {
		return nil, errors.New("expected an object of columns or an array of records")
	}
	if t := r.frameOf(obj); t != nil {
		out := tabular.New(t.Columns...)
		out.Rows = copyRows(t.Rows)
		return out, nil
	}
	if obj.ClassName() == "Array" {
		if int(obj.Get("length").ToInteger()) == 0 {
			return tabular.New(), nil
		}
		t, ok := r.recordsTable(obj)
		if !ok {
			return nil, errors.New("array elements must be plain objects")
		}
		return t, nil
	}

	columns := obj.Keys()
	values := make(map[string][]any, len(columns))
	scalars := map[string]any{}
	n := -1
	for _, c := range columns {
		cv := obj.Get(c)
		co, isObj := cv.(*goja.Object)
		if !isObj || co.ClassName() != "Array" {
			scalars[c] = exportCell(cv)
			continue
		}
		length := int(co.Get("length").ToInteger())
		if n >= 0 && length != n {
			return nil, errors.Errorf("column %q has %d values, expected %d", c, length, n)
		}
		n = length
		cells := make([]any, length)
		for i := range cells {
			cells[i] = exportCell(co.Get(strconv.Itoa(i)))
		}
		values[c] = cells
	}
	if n < 0 {
		n = 1
	}
	for c, s := range scalars {
		cells := make([]any, n)
		for i := range cells {
			cells[i] = s
		}
		values[c] = cells
	}
	return tabular.FromColumns(columns, values)
}

func (r *runtime) frameOf(obj *goja.Object) *tabular.Table {
	if obj == nil {
		return nil
	}
	v := obj.Get(frameIDKey)
	if v == nil || goja.IsUndefined(v) {
		return nil
	}
	id := int(v.ToInteger())
	if id < 0 || id >= len(r.frames) {
		return nil
	}
	return r.frames[id]
}

func (r *runtime) wrapFrame(t *tabular.Table) goja.Value {
	id := len(r.frames)
	r.frames = append(r.frames, t)

	vm := r.vm
	obj := vm.NewObject()
	_ = obj.DefineDataProperty(frameIDKey, vm.ToValue(id), goja.FLAG_FALSE, goja.FLAG_FALSE, goja.FLAG_FALSE)

	cols := make([]any, len(t.Columns))
	for i, c := range t.Columns {
		cols[i] = c
	}
	_ = obj.Set("columns", vm.NewArray(cols...))
	_ = obj.Set("length", t.Len())
	_ = obj.Set("shape", vm.NewArray(t.Len(), len(t.Columns)))

	_ = obj.Set("head", func(call goja.FunctionCall) goja.Value {
		n := rowCount(call.Argument(0), t.Len())
		out := tabular.New(t.Columns...)
		out.Rows = copyRows(t.Rows[:n])
		return r.wrapFrame(out)
	})
	_ = obj.Set("tail", func(call goja.FunctionCall) goja.Value {
		n := rowCount(call.Argument(0), t.Len())
		out := tabular.New(t.Columns...)
		out.Rows = copyRows(t.Rows[t.Len()-n:])
		return r.wrapFrame(out)
	})
	_ = obj.Set("col", func(call goja.FunctionCall) goja.Value {
		vals, ok := t.Column(call.Argument(0).String())
		if !ok {
			panic(vm.NewTypeError("unknown column %q", call.Argument(0).String()))
		}
		return vm.NewArray(vals...)
	})
	_ = obj.Set("toRecords", func(goja.FunctionCall) goja.Value {
		items := make([]any, 0, t.Len())
		for _, row := range t.Rows {
			rec := vm.NewObject()
			for i, c := range t.Columns {
				_ = rec.Set(c, row[i])
			}
			items = append(items, rec)
		}
		return vm.NewArray(items...)
	})
	_ = obj.Set("assign", func(call goja.FunctionCall) goja.Value {
		name := call.Argument(0).String()
		vals := make([]any, t.Len())
		if arr, ok := call.Argument(1).(*goja.Object); ok && arr.ClassName() == "Array" {
			if int(arr.Get("length").ToInteger()) != t.Len() {
				panic(vm.NewTypeError("assign: %q needs %d values", name, t.Len()))
			}
			for i := range vals {
				vals[i] = exportCell(arr.Get(strconv.Itoa(i)))
			}
		} else {
			s := exportCell(call.Argument(1))
			for i := range vals {
				vals[i] = s
			}
		}
		return r.wrapFrame(withColumn(t, name, vals))
	})
	return obj
}

func withColumn(t *tabular.Table, name string, vals []any) *tabular.Table {
	idx := t.Index(name)
	cols := append([]string(nil), t.Columns...)
	if idx < 0 {
		cols = append(cols, name)
	}
	out := tabular.New(cols...)
	for i, row := range t.Rows {
		nr := append([]any(nil), row...)
		if idx < 0 {
			nr = append(nr, vals[i])
		} else {
			nr[idx] = vals[i]
		}
		out.Rows = append(out.Rows, nr)
	}
	return out
}

func rowCount(arg goja.Value, total int) int {
	n := 5
	if !goja.IsUndefined(arg) && !goja.IsNull(arg) {
		n = int(arg.ToInteger())
	}
	if n < 0 {
		n = 0
	}
	if n > total {
		n = total
	}
	return n
}

func copyRows(rows [][]any) [][]any {
	out := make([][]any, len(rows))
	for i, row := range rows {
		out[i] = append([]any(nil), row...)
	}
	return out
}

func dateRange(start string, periods int, freq string) ([]any, error) {
	if periods < 0 {
		return nil, errors.New("periods must not be negative")
	}
	t0, err := parseDate(start)
	if err != nil {
		return nil, err
	}
	out := make([]any, 0, periods)
	for i := 0; i < periods; i++ {
		var t time.Time
		switch freq {
		case "D", "":
			t = t0.AddDate(0, 0, i)
		case "W":
			t = t0.AddDate(0, 0, 7*i)
		case "M", "MS":
			t = t0.AddDate(0, i, 0)
		case "Q", "QS":
			t = t0.AddDate(0, 3*i, 0)
		case "Y", "A", "YS":
			t = t0.AddDate(i, 0, 0)
		case "H":
			out = append(out, t0.Add(time.Duration(i)*time.Hour).Format("2006-01-02 15:04:05"))
			continue
		default:
			return nil, errors.Errorf("unsupported frequency %q", freq)
		}
		out = append(out, t.Format("2006-01-02"))
	}
	return out, nil
}

func parseDate(s string) (time.Time, error) {
	for _, layout := range []string{"2006-01-02", "2006-01-02 15:04:05", time.RFC3339, "2006/01/02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, errors.Errorf("cannot parse date %q", s)
}
