/*
Package result implements the outcome of a computation that may fail.

Node-level prepare operations return a Result: either Ok with the
update-state to commit, or Err with the reason the mutation cannot be
performed (usually packed.ErrCapacityExceeded). Clients either use Get, or
match the outcome in a switch statement:

	switch m := r.Match(); m {
	case m.Ok(&upd):
		leaf.Commit(upd)
	case m.Err(&err):
		return err
	}
*/
package result

import "fmt"

// Result is the outcome of a computation that may fail.
type Result[T any] interface {
	Match() Matcher[T]
	Get() (T, error)
	IsOk() bool
}

type result[T any] struct {
	value T
	err   error
}

// Ok wraps a successful outcome.
func Ok[T any](x T) Result[T] {
	return result[T]{value: x}
}

// Err wraps a failure. err must not be nil.
func Err[T any](err error) Result[T] {
	if err == nil {
		panic("result: Err called with nil error")
	}
	return result[T]{err: err}
}

// Of converts a (value, error) pair, as returned by most Go functions.
func Of[T any](x T, err error) Result[T] {
	if err != nil {
		return result[T]{err: err}
	}
	return result[T]{value: x}
}

func (r result[T]) Match() Matcher[T] {
	return matcher[T]{r: r}
}

func (r result[T]) Get() (T, error) {
	return r.value, r.err
}

func (r result[T]) IsOk() bool {
	return r.err == nil
}

func (r result[T]) String() string {
	if r.err != nil {
		return fmt.Sprintf("Err(%v)", r.err)
	}
	return fmt.Sprintf("Ok(%v)", r.value)
}

// Map applies f to the value of a successful outcome. Failures are passed
// through.
func Map[T, U any](r Result[T], f func(T) U) Result[U] {
	v, err := r.Get()
	if err != nil {
		return result[U]{err: err}
	}
	return Ok(f(v))
}

// AndThen chains a computation which may fail itself.
func AndThen[T, U any](r Result[T], f func(T) Result[U]) Result[U] {
	v, err := r.Get()
	if err != nil {
		return result[U]{err: err}
	}
	return f(v)
}

// --- Matching --------------------------------------------------------------

// Matcher is used as the tag of a switch statement. Exactly one of Ok and Err
// returns the matcher itself, thus matching the switch tag; the other one
// returns nil.
type Matcher[T any] interface {
	Ok(*T) Matcher[T]
	Err(*error) Matcher[T]
}

type matcher[T any] struct {
	r result[T]
}

func (rm matcher[T]) Ok(v *T) Matcher[T] {
	if rm.r.err == nil {
		*v = rm.r.value
		return rm
	}
	return nil
}

func (rm matcher[T]) Err(err *error) Matcher[T] {
	if rm.r.err != nil {
		*err = rm.r.err
		return rm
	}
	return nil
}
