package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrapNil(t *testing.T) {
	assert.NoError(t, Wrap(nil, ErrCodeInternal, "nothing"))
}

func TestCodeOf(t *testing.T) {
	cause := stderrors.New("connection reset")

	tests := []struct {
		name string
		err  error
		want ErrCode
	}{
		{"plain error", cause, ErrCodeInternal},
		{"store", Store(cause, "query failed"), ErrCodeTransientStore},
		{"not found", NotFound("contract", "c1"), ErrCodeNotFound},
		{"pending", ApprovalPending("contract", "c1"), ErrCodeApprovalPending},
		{"wrapped by fmt", fmt.Errorf("outer: %w", AccessDenied("no")), ErrCodeAccessDenied},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CodeOf(tt.err))
		})
	}
}

func TestUnwrapKeepsCause(t *testing.T) {
	cause := stderrors.New("boom")
	err := Store(cause, "insert audit log")

	assert.True(t, Is(err, cause))
	assert.Contains(t, err.Error(), "transient_store")
	assert.True(t, HasCode(err, ErrCodeTransientStore))
	assert.False(t, HasCode(nil, ErrCodeTransientStore))
}
