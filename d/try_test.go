package d

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testError struct{ s string }

func (e testError) Error() string { return e.s }

func TestPanicIfError(t *testing.T) {
	assert.Panics(t, func() {
		Try(func() {
			panic(testError{"boom"})
		})
	})

	err := Try(func() {
		PanicIfError(testError{"boom"})
	})
	require.Error(t, err)
	assert.Equal(t, testError{"boom"}, err)

	assert.NoError(t, Try(func() {
		PanicIfError(nil)
	}))
}

func TestPanicIfTrueFalse(t *testing.T) {
	assert.Panics(t, func() { PanicIfTrue(true) })
	assert.NotPanics(t, func() { PanicIfTrue(false) })
	assert.Panics(t, func() { PanicIfFalse(false) })
	assert.NotPanics(t, func() { PanicIfFalse(true) })
}

func TestPanicFormat(t *testing.T) {
	err := Try(func() {
		Panic("bad thing: %s", "reason")
	})
	require.Error(t, err)
	assert.Equal(t, "bad thing: reason", err.Error())
}

func TestWrapUnwrap(t *testing.T) {
	te := testError{"te"}
	we := Wrap(te)
	assert.Equal(t, te, Unwrap(we))
	assert.Nil(t, Wrap(nil))
	assert.Equal(t, we, Wrap(we))
}

func TestTryCatch(t *testing.T) {
	err := TryCatch(func() {
		panic(Wrap(testError{"te"}))
	}, func(err error) error {
		return Unwrap(err)
	})
	assert.Equal(t, testError{"te"}, err)

	assert.Panics(t, func() {
		TryCatch(func() {
			panic("not an error")
		}, func(err error) error {
			return err
		})
	})
}
