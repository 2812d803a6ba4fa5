package expr_test

import (
	"testing"

	"github.com/crustyvm/crustyvm/lang/expr"
	"github.com/stretchr/testify/require"
)

func TestEvalArithmetic(t *testing.T) {
	cases := []struct {
		in   string
		want int64
	}{
		{"1+2", 3},
		{"2+3*4", 14},
		{"(2+3)*4", 20},
		{"10-3-2", 5},
		{"2*3+4*5", 26},
		{"7/2", 3},
		{"7%2", 1},
		{"-5+3", -2},
		{"-(5+3)", -8},
		{"1<<4", 16},
		{"256>>4", 16},
		{"1<2", 1},
		{"2<1", 0},
		{"3<=3", 1},
		{"4>=5", 0},
		{"3==3", 1},
		{"3!=3", 0},
		{"6&3", 2},
		{"6!&3", ^int64(2)},
		{"6|1", 7},
		{"6!|1", ^int64(7)},
		{"5^1", 4},
		{"5!^1", ^int64(4)},
		{"~0", -1},
	}
	for _, c := range cases {
		t.Run(c.in, func(t *testing.T) {
			got, err := expr.Eval(c.in, nil)
			require.NoError(t, err)
			require.Equal(t, c.want, got)
		})
	}
}

func TestEvalPrecedenceLeftAssociative(t *testing.T) {
	got, err := expr.Eval("16/4/2", nil)
	require.NoError(t, err)
	require.Equal(t, int64(2), got)
}

func TestEvalIdentifierLookup(t *testing.T) {
	lookup := func(name string) int64 {
		if name == "FOO" {
			return 42
		}
		return -1
	}
	got, err := expr.Eval("FOO+1", lookup)
	require.NoError(t, err)
	require.Equal(t, int64(43), got)
}

func TestEvalUndefinedIdentifierIsZero(t *testing.T) {
	got, err := expr.Eval("UNDEFINED+5", nil)
	require.NoError(t, err)
	require.Equal(t, int64(5), got)
}

func TestEvalDivisionByZeroDoesNotPanic(t *testing.T) {
	got, err := expr.Eval("1/0", nil)
	require.NoError(t, err)
	require.Equal(t, int64(0), got)

	got, err = expr.Eval("1%0", nil)
	require.NoError(t, err)
	require.Equal(t, int64(0), got)
}

func TestEvalSyntaxErrors(t *testing.T) {
	cases := []string{"(1+2", "1+", "1 2", "$", ")1"}
	for _, in := range cases {
		t.Run(in, func(t *testing.T) {
			_, err := expr.Eval(in, nil)
			require.Error(t, err)
		})
	}
}
