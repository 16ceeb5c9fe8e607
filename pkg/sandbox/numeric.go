package sandbox

import (
	"math"
	"strconv"

	"github.com/dop251/goja"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

const maxDraws = 1_000_000

func (r *runtime) installNumeric() error {
	vm := r.vm
	np := vm.NewObject()

	reductions := map[string]func([]float64) float64{
		"sum":  floats.Sum,
		"mean": func(xs []float64) float64 { return stat.Mean(xs, nil) },
		"std":  func(xs []float64) float64 { return stat.StdDev(xs, nil) },
		"var":  func(xs []float64) float64 { return stat.Variance(xs, nil) },
		"min":  floats.Min,
		"max":  floats.Max,
	}
	for name, reduce := range reductions {
		name, reduce := name, reduce
		if err := np.Set(name, func(call goja.FunctionCall) goja.Value {
			xs := r.floatsArg(name, call.Argument(0))
			if len(xs) == 0 {
				return vm.ToValue(math.NaN())
			}
			return vm.ToValue(reduce(xs))
		}); err != nil {
			return err
		}
	}

	sets := map[string]func(goja.FunctionCall) goja.Value{
		"array": func(call goja.FunctionCall) goja.Value {
			return call.Argument(0)
		},
		"arange": func(call goja.FunctionCall) goja.Value {
			start, stop, step := 0.0, call.Argument(0).ToFloat(), 1.0
			if !isMissing(call.Argument(1)) {
				start, stop = stop, call.Argument(1).ToFloat()
			}
			if !isMissing(call.Argument(2)) {
				step = call.Argument(2).ToFloat()
			}
			if step == 0 {
				panic(vm.NewTypeError("arange: step must not be zero"))
			}
			var out []float64
			for v := start; (step > 0 && v < stop) || (step < 0 && v > stop); v += step {
				out = append(out, v)
			}
			return r.floatArray(out)
		},
		"linspace": func(call goja.FunctionCall) goja.Value {
			lo, hi := call.Argument(0).ToFloat(), call.Argument(1).ToFloat()
			n := int(call.Argument(2).ToInteger())
			switch {
			case n <= 0:
				return r.floatArray(nil)
			case n == 1:
				return r.floatArray([]float64{lo})
			}
			return r.floatArray(floats.Span(make([]float64, n), lo, hi))
		},
		"cumsum": func(call goja.FunctionCall) goja.Value {
			xs := r.floatsArg("cumsum", call.Argument(0))
			return r.floatArray(floats.CumSum(make([]float64, len(xs)), xs))
		},
		"round": func(call goja.FunctionCall) goja.Value {
			digits := 0.0
			if !isMissing(call.Argument(1)) {
				digits = float64(call.Argument(1).ToInteger())
			}
			scale := math.Pow(10, digits)
			round := func(x float64) float64 { return math.Round(x*scale) / scale }
			if obj, ok := call.Argument(0).(*goja.Object); ok && obj.ClassName() == "Array" {
				xs := r.floatsArg("round", obj)
				for i := range xs {
					xs[i] = round(xs[i])
				}
				return r.floatArray(xs)
			}
			return vm.ToValue(round(call.Argument(0).ToFloat()))
		},
	}
	for name, fn := range sets {
		if err := np.Set(name, fn); err != nil {
			return err
		}
	}

	random := vm.NewObject()
	draws := map[string]func(goja.FunctionCall) goja.Value{
		"normal": func(call goja.FunctionCall) goja.Value {
			mu, sigma := 0.0, 1.0
			if !isMissing(call.Argument(0)) {
				mu = call.Argument(0).ToFloat()
			}
			if !isMissing(call.Argument(1)) {
				sigma = call.Argument(1).ToFloat()
			}
			d := distuv.Normal{Mu: mu, Sigma: sigma}
			return r.draw(call.Argument(2), d.Rand)
		},
		"uniform": func(call goja.FunctionCall) goja.Value {
			lo, hi := 0.0, 1.0
			if !isMissing(call.Argument(0)) {
				lo = call.Argument(0).ToFloat()
			}
			if !isMissing(call.Argument(1)) {
				hi = call.Argument(1).ToFloat()
			}
			if hi <= lo {
				panic(vm.NewTypeError("uniform: high must exceed low"))
			}
			d := distuv.Uniform{Min: lo, Max: hi}
			return r.draw(call.Argument(2), d.Rand)
		},
		"rand": func(call goja.FunctionCall) goja.Value {
			d := distuv.Uniform{Min: 0, Max: 1}
			return r.draw(call.Argument(0), d.Rand)
		},
		"randint": func(call goja.FunctionCall) goja.Value {
			lo, hi := call.Argument(0).ToInteger(), call.Argument(1).ToInteger()
			if isMissing(call.Argument(1)) {
				lo, hi = 0, lo
			}
			if hi <= lo {
				panic(vm.NewTypeError("randint: high must exceed low"))
			}
			d := distuv.Uniform{Min: float64(lo), Max: float64(hi)}
			pick := func() int64 {
				v := int64(math.Floor(d.Rand()))
				if v >= hi {
					v = hi - 1
				}
				return v
			}
			return r.drawInts(call.Argument(2), pick)
		},
		"choice": func(call goja.FunctionCall) goja.Value {
			arr, ok := call.Argument(0).(*goja.Object)
			if !ok || arr.ClassName() != "Array" {
				panic(vm.NewTypeError("choice: first argument must be an array"))
			}
			n := arr.Get("length").ToInteger()
			if n == 0 {
				panic(vm.NewTypeError("choice: empty array"))
			}
			d := distuv.Uniform{Min: 0, Max: float64(n)}
			pick := func() goja.Value {
				i := int64(math.Floor(d.Rand()))
				if i >= n {
					i = n - 1
				}
				return arr.Get(strconv.FormatInt(i, 10))
			}
			if isMissing(call.Argument(1)) {
				return pick()
			}
			items := make([]any, sizeOf(call.Argument(1)))
			for i := range items {
				items[i] = pick()
			}
			return vm.NewArray(items...)
		},
	}
	for name, fn := range draws {
		if err := random.Set(name, fn); err != nil {
			return err
		}
	}
	if err := np.Set("random", random); err != nil {
		return err
	}
	return vm.Set("np", np)
}

func (r *runtime) floatsArg(fn string, v goja.Value) []float64 {
	var xs []float64
	if err := r.vm.ExportTo(v, &xs); err != nil {
		panic(r.vm.NewTypeError("np.%s: expected an array of numbers", fn))
	}
	return xs
}

func (r *runtime) floatArray(xs []float64) goja.Value {
	items := make([]any, len(xs))
	for i, x := range xs {
		items[i] = x
	}
	return r.vm.NewArray(items...)
}

// draw returns one sample when size is missing, otherwise an array of size
// samples.
func (r *runtime) draw(size goja.Value, sample func() float64) goja.Value {
	if isMissing(size) {
		return r.vm.ToValue(sample())
	}
	xs := make([]float64, sizeOf(size))
	for i := range xs {
		xs[i] = sample()
	}
	return r.floatArray(xs)
}

func (r *runtime) drawInts(size goja.Value, sample func() int64) goja.Value {
	if isMissing(size) {
		return r.vm.ToValue(sample())
	}
	items := make([]any, sizeOf(size))
	for i := range items {
		items[i] = sample()
	}
	return r.vm.NewArray(items...)
}

func isMissing(v goja.Value) bool {
	return v == nil || goja.IsUndefined(v) || goja.IsNull(v)
}

func sizeOf(v goja.Value) int {
	n := int(v.ToInteger())
	switch {
	case n < 0:
		return 0
	case n > maxDraws:
		return maxDraws
	}
	return n
}
