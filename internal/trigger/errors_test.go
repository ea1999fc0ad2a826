package trigger

import (
	"context"
	"testing"

	pkgerrors "github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestIsCancellation(t *testing.T) {
	assert.True(t, IsCancellation(context.Canceled))
	assert.True(t, IsCancellation(context.DeadlineExceeded))
	assert.True(t, IsCancellation(pkgerrors.Wrap(context.Canceled, "while acquiring changes")))
	assert.False(t, IsCancellation(pkgerrors.New("boom")))
}

func TestErrorMessages(t *testing.T) {
	assert.Contains(t, (&ConfigurationError{Reason: "bad"}).Error(), "bad")
	assert.Contains(t, (&TableNotFound{TableName: "dbo.Foo"}).Error(), "dbo.Foo")
	assert.Contains(t, (&NoPrimaryKey{TableName: "dbo.Foo"}).Error(), "dbo.Foo")
	assert.Contains(t, (&ChangeTrackingNotEnabled{TableName: "dbo.Foo"}).Error(), "dbo.Foo")
	assert.Contains(t, (&StuckHandlerError{Renewals: 5}).Error(), "5")
}

func TestDecodeErrorUnwrap(t *testing.T) {
	cause := pkgerrors.New("root cause")
	err := &DecodeError{Reason: "payload", cause: cause}
	assert.Equal(t, cause, err.Unwrap())
	assert.Contains(t, err.Error(), "root cause")
}
