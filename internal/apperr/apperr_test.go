package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOfThroughWrapping(t *testing.T) {
	err := fmt.Errorf("create order: %w", Conflict("flash sale sold out"))

	assert.Equal(t, KindConflict, KindOf(err))
	assert.True(t, errors.Is(err, ErrConflict))
	assert.False(t, errors.Is(err, ErrStateConflict))
	assert.Equal(t, "flash sale sold out", Message(err))
}

func TestUnknownErrorsAreInternal(t *testing.T) {
	err := errors.New("pq: connection refused")

	assert.Equal(t, KindInternal, KindOf(err))
	assert.Equal(t, "internal error", Message(err))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(KindOf(err)))
}

func TestWrappedCauseIsNotPublic(t *testing.T) {
	cause := errors.New("sql: no rows in result set")
	err := Wrap(KindNotFound, cause, "order not found")

	assert.Equal(t, "order not found", Message(err))
	assert.ErrorIs(t, err, cause)
}

func TestHTTPStatus(t *testing.T) {
	cases := map[Kind]int{
		KindValidation:          http.StatusBadRequest,
		KindNotFound:            http.StatusNotFound,
		KindStateConflict:       http.StatusConflict,
		KindExpiredKey:          http.StatusGone,
		KindDenied:              http.StatusForbidden,
		KindInsufficientBalance: http.StatusUnprocessableEntity,
		KindServiceUnavailable:  http.StatusServiceUnavailable,
	}
	for kind, want := range cases {
		assert.Equal(t, want, HTTPStatus(kind), string(kind))
	}
}
