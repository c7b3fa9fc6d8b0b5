package syncws_test

import (
	"fmt"
	"io"
	"testing"

	"github.com/syncws/syncws"
	"github.com/syncws/syncws/internal/test/assert"
)

func TestCloseError(t *testing.T) {
	t.Parallel()

	err := syncws.CloseError{
		Code:   syncws.StatusGoingAway,
		Reason: "server restarting",
	}
	assert.Equal(t, "error string",
		`status = 1001 and reason = "server restarting"`,
		err.Error(),
	)
}

func TestCloseStatus(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string
		in   error
		exp  syncws.StatusCode
	}{
		{
			name: "nil",
			in:   nil,
			exp:  -1,
		},
		{
			name: "noCloseError",
			in:   io.EOF,
			exp:  -1,
		},
		{
			name: "closeError",
			in:   syncws.CloseError{Code: syncws.StatusNormalClosure},
			exp:  syncws.StatusNormalClosure,
		},
		{
			name: "wrapped",
			in:   fmt.Errorf("failed to receive: %w", syncws.CloseError{Code: syncws.StatusPolicyViolation}),
			exp:  syncws.StatusPolicyViolation,
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, "status", tc.exp, syncws.CloseStatus(tc.in))
		})
	}
}
