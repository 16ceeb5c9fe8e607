package sandbox

import (
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/dop251/goja"
)

func (r *runtime) installFaker() error {
	faker := r.vm.NewObject()

	generators := map[string]any{
		"name":        gofakeit.Name,
		"firstName":   gofakeit.FirstName,
		"lastName":    gofakeit.LastName,
		"email":       gofakeit.Email,
		"phone":       gofakeit.Phone,
		"username":    gofakeit.Username,
		"company":     gofakeit.Company,
		"jobTitle":    gofakeit.JobTitle,
		"city":        gofakeit.City,
		"state":       gofakeit.State,
		"country":     gofakeit.Country,
		"street":      gofakeit.Street,
		"zip":         gofakeit.Zip,
		"productName": gofakeit.ProductName,
		"category":    gofakeit.ProductCategory,
		"color":       gofakeit.Color,
		"currency":    gofakeit.CurrencyShort,
		"gender":      gofakeit.Gender,
		"uuid":        gofakeit.UUID,
		"word":        gofakeit.Word,
		"bool":        gofakeit.Bool,
		"price":       gofakeit.Price,
		"float":       gofakeit.Float64Range,
		"int":         gofakeit.Number,
		"sentence": func(words int) string {
			if words <= 0 {
				words = 8
			}
			parts := make([]string, words)
			for i := range parts {
				parts[i] = gofakeit.Word()
			}
			s := strings.Join(parts, " ")
			return strings.ToUpper(s[:1]) + s[1:] + "."
		},
	}
	for name, fn := range generators {
		if err := faker.Set(name, fn); err != nil {
			return err
		}
	}

	if err := faker.Set("date", func(call goja.FunctionCall) goja.Value {
		end := time.Now()
		start := end.AddDate(-1, 0, 0)
		if !isMissing(call.Argument(0)) {
			t, err := parseDate(call.Argument(0).String())
			if err != nil {
				panic(r.vm.NewTypeError("faker.date: %s", err.Error()))
			}
			start = t
		}
		if !isMissing(call.Argument(1)) {
			t, err := parseDate(call.Argument(1).String())
			if err != nil {
				panic(r.vm.NewTypeError("faker.date: %s", err.Error()))
			}
			end = t
		}
		if !end.After(start) {
			panic(r.vm.NewTypeError("faker.date: end must be after start"))
		}
		return r.vm.ToValue(gofakeit.DateRange(start, end).Format("2006-01-02"))
	}); err != nil {
		return err
	}

	return r.vm.Set("faker", faker)
}
