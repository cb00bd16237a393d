package result_test

import (
	"errors"
	"testing"

	. "github.com/npillmayer/pbtree/result"
	"github.com/stretchr/testify/require"
)

func TestResultMatch(t *testing.T) {
	x := Ok(7) // infers type
	y := Err[int](errors.New("not ok"))

	var v int
	var e error

	switch m := x.Match(); m {
	case m.Ok(&v):
		t.Logf("Ok(%d)", v)
	case m.Err(&e):
		t.Errorf("expected x to match Ok")
	}
	require.Equal(t, 7, v)

	switch m := y.Match(); m {
	case m.Ok(&v):
		t.Errorf("expected y to match Err")
	case m.Err(&e):
		t.Logf("Err: %s", e.Error())
	}
	require.Error(t, e)
}

func TestResultChaining(t *testing.T) {
	halve := func(n int) Result[int] {
		if n%2 != 0 {
			return Err[int](errors.New("odd"))
		}
		return Ok(n / 2)
	}
	r := AndThen(AndThen(Ok(12), halve), halve)
	v, err := r.Get()
	require.NoError(t, err)
	require.Equal(t, 3, v)
	require.False(t, AndThen(r, halve).IsOk())
	s := Map(Ok(4), func(n int) string { return string(rune('a' + n)) })
	require.True(t, s.IsOk())
	str, _ := s.Get()
	require.Equal(t, "e", str)
	require.False(t, Of(0, errors.New("x")).IsOk())
}
