package sandbox

import (
	"encoding/json"
	"regexp"
	"strconv"

	"github.com/dop251/goja"
	"github.com/go-go-golems/tablechat/pkg/tabular"
	"github.com/pkg/errors"
)

// runtime is the VM plus the host capabilities installed into it. Only the
// names installed here exist in the global scope besides ECMAScript built-ins.
type runtime struct {
	vm     *goja.Runtime
	frames []*tabular.Table
}

var identifier = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*$`)

const prelude = `
(function () {
	const makeFrame = pd.DataFrame;
	pd.DataFrame = function DataFrame(data) { return makeFrame(data); };
	pd.date_range = pd.dateRange;
})();
var Faker = function Faker() { return faker; };
`

func newRuntime() (*runtime, error) {
	r := &runtime{vm: goja.New()}
	installers := []func() error{
		r.installConsole,
		r.installPandas,
		r.installNumeric,
		r.installFaker,
	}
	for _, install := range installers {
		if err := install(); err != nil {
			return nil, err
		}
	}
	if _, err := r.vm.RunString(prelude); err != nil {
		return nil, errors.Wrap(err, "sandbox: prelude")
	}
	return r, nil
}

func (r *runtime) installConsole() error {
	console := r.vm.NewObject()
	noop := func(goja.FunctionCall) goja.Value { return goja.Undefined() }
	for _, name := range []string{"log", "info", "warn", "error", "debug"} {
		if err := console.Set(name, noop); err != nil {
			return err
		}
	}
	return r.vm.Set("console", console)
}

// capture reads the named top-level bindings. In strict mode a name that is
// not bound is an error; otherwise unbound or unserialisable names are skipped.
func (r *runtime) capture(names []string, strict bool) (map[string]Binding, error) {
	out := map[string]Binding{}
	for _, name := range names {
		if !identifier.MatchString(name) {
			if strict {
				return nil, errors.Errorf("SyntaxError: %q is not an identifier", name)
			}
			continue
		}
		v, err := r.vm.RunString(name)
		if err != nil || v == nil || goja.IsUndefined(v) {
			if strict {
				return nil, errors.Errorf("ReferenceError: %s is not defined after execution", name)
			}
			continue
		}
		b, ok, err := r.toBinding(v)
		if err != nil {
			if strict {
				return nil, errors.Wrapf(err, "capture %s", name)
			}
			continue
		}
		if !ok {
			if strict {
				return nil, errors.Errorf("TypeError: %s cannot be serialised", name)
			}
			continue
		}
		out[name] = b
	}
	return out, nil
}

func (r *runtime) toBinding(v goja.Value) (Binding, bool, error) {
	if obj, ok := v.(*goja.Object); ok {
		if t := r.frameOf(obj); t != nil {
			return Binding{Table: t}, true, nil
		}
		if t, ok := r.recordsTable(obj); ok {
			return Binding{Table: t}, true, nil
		}
	}
	raw, ok, err := r.stringify(v)
	if err != nil || !ok {
		return Binding{}, ok, err
	}
	return Binding{Value: raw}, true, nil
}

// recordsTable converts a non-empty array whose elements are all plain
// objects. Column order follows the key order of the records.
func (r *runtime) recordsTable(obj *goja.Object) (*tabular.Table, bool) {
	if obj.ClassName() != "Array" {
		return nil, false
	}
	n := int(obj.Get("length").ToInteger())
	if n == 0 {
		return nil, false
	}
	records := make([]map[string]any, 0, n)
	var order []string
	for i := 0; i < n; i++ {
		el, ok := obj.Get(strconv.Itoa(i)).(*goja.Object)
		if !ok || el.ClassName() != "Object" || r.frameOf(el) != nil {
			return nil, false
		}
		rec := map[string]any{}
		for _, k := range el.Keys() {
			if i == 0 {
				order = append(order, k)
			}
			rec[k] = exportCell(el.Get(k))
		}
		records = append(records, rec)
	}
	return tabular.FromRecords(records, order), true
}

func (r *runtime) stringify(v goja.Value) (json.RawMessage, bool, error) {
	jsonObj := r.vm.Get("JSON").ToObject(r.vm)
	stringify, ok := goja.AssertFunction(jsonObj.Get("stringify"))
	if !ok {
		return nil, false, errors.New("JSON.stringify unavailable")
	}
	out, err := stringify(goja.Undefined(), v)
	if err != nil {
		return nil, false, errors.New(exceptionTrace(err))
	}
	if out == nil || goja.IsUndefined(out) {
		return nil, false, nil
	}
	return json.RawMessage(out.String()), true, nil
}

func exportCell(v goja.Value) any {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil
	}
	return tabular.Normalize(v.Export())
}

func exceptionTrace(err error) string {
	var ex *goja.Exception
	if errors.As(err, &ex) {
		return ex.String()
	}
	return err.Error()
}
