package aso

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKindHTTPStatus(t *testing.T) {
	t.Parallel()

	cases := map[Kind]int{
		KindValidation: http.StatusBadRequest,
		KindNotFound:   http.StatusNotFound,
		KindAuth:       http.StatusUnauthorized,
		KindRateLimit:  http.StatusTooManyRequests,
		KindQuota:      http.StatusPaymentRequired,
		KindUpstream:   http.StatusBadGateway,
		KindMalformed:  http.StatusBadGateway,
		KindNoKeywords: http.StatusBadGateway,
		KindInternal:   http.StatusInternalServerError,
	}
	for kind, want := range cases {
		require.Equal(t, want, kind.HTTPStatus(), "kind %s", kind)
	}
}

func TestKindOf_Wrapped(t *testing.T) {
	t.Parallel()

	inner := E(KindRateLimit, "scoring.Score", "throttled", nil)
	wrapped := fmt.Errorf("score batch: %w", inner)
	require.Equal(t, KindRateLimit, KindOf(wrapped))
	require.True(t, IsKind(wrapped, KindRateLimit))
}

func TestKindOf_Untagged(t *testing.T) {
	t.Parallel()

	require.Equal(t, KindInternal, KindOf(errors.New("boom")))
}

func TestErrorMessageShapes(t *testing.T) {
	t.Parallel()

	base := errors.New("connection refused")
	require.Equal(t, "op: msg: connection refused", E(KindUpstream, "op", "msg", base).Error())
	require.Equal(t, "op: msg", E(KindUpstream, "op", "msg", nil).Error())
	require.Equal(t, "op: connection refused", E(KindUpstream, "op", "", base).Error())
	require.ErrorIs(t, E(KindUpstream, "op", "msg", base), base)
}
