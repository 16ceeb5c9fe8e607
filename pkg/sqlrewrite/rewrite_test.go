package sqlrewrite

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

const (
	salesID     = "t_0123456789abcdef0123456789abcdef"
	customersID = "t_fedcba9876543210fedcba9876543210"
)

var mapping = map[string]string{
	"sales":     salesID,
	"customers": customersID,
}

func TestRewrite_FromAddsAlias(t *testing.T) {
	out, err := Rewrite("SELECT amount FROM sales WHERE region = 'sales'", mapping)
	require.NoError(t, err)
	require.Equal(t, "SELECT amount FROM "+salesID+" AS sales WHERE region = 'sales'", out)
}

func TestRewrite_KeepsExistingAliases(t *testing.T) {
	in := "SELECT s.amount, c.name FROM sales s JOIN customers AS c ON s.customer_id = c.id"
	out, err := Rewrite(in, mapping)
	require.NoError(t, err)
	require.Equal(t, "SELECT s.amount, c.name FROM "+salesID+" s JOIN "+customersID+" AS c ON s.customer_id = c.id", out)
}

func TestRewrite_QualifiedColumnsUntouched(t *testing.T) {
	out, err := Rewrite("SELECT sales.amount FROM sales", mapping)
	require.NoError(t, err)
	require.Equal(t, "SELECT sales.amount FROM "+salesID+" AS sales", out)
}

func TestRewrite_CaseInsensitiveLookup(t *testing.T) {
	out, err := Rewrite("SELECT COUNT(*) FROM Sales", mapping)
	require.NoError(t, err)
	require.Equal(t, "SELECT COUNT(*) FROM "+salesID+" AS Sales", out)
}

func TestRewrite_UnknownTablesUntouched(t *testing.T) {
	in := "SELECT * FROM orders"
	out, err := Rewrite(in, mapping)
	require.NoError(t, err)
	require.Equal(t, in, out)
}

func TestRewrite_EmptyMapping(t *testing.T) {
	in := "SELECT * FROM sales"
	out, err := Rewrite(in, nil)
	require.NoError(t, err)
	require.Equal(t, in, out)
}

func TestRewrite_Unparseable(t *testing.T) {
	in := "SELEC amount FRM sales WHERE ((("
	out, err := Rewrite(in, mapping)
	require.ErrorIs(t, err, ErrUnparseable)
	require.Equal(t, in, out)
}

func TestRewrite_Concurrent(t *testing.T) {
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := Rewrite("SELECT amount FROM sales", mapping)
			require.NoError(t, err)
			require.Equal(t, "SELECT amount FROM "+salesID+" AS sales", out)
		}()
	}
	wg.Wait()
}

func TestNormalize(t *testing.T) {
	require.Equal(t, "sales", normalize(`"Sales"`))
	require.Equal(t, "sales", normalize("`SALES`"))
	require.Equal(t, "sales", normalize("[sales]"))
}

func TestApply_ReverseOrder(t *testing.T) {
	out := apply("a b c", []splice{{0, 1, "xx"}, {4, 5, "zz"}})
	require.Equal(t, "xx b zz", out)
}
