package queue

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type codedError struct {
	code int
}

func (e *codedError) Error() string { return fmt.Sprintf("coded %d", e.code) }
func (e *codedError) Code() int     { return e.code }

func TestNewErrorInfo(t *testing.T) {
	err := fmt.Errorf("sending mail: %w", &codedError{code: 550})
	info := NewErrorInfo(err)

	assert.Equal(t, "sending mail: coded 550", info.Message)
	assert.Equal(t, 550, info.Code)
	assert.Equal(t, "*queue.codedError", info.Type)

	assert.Equal(t, ErrorInfo{}, NewErrorInfo(nil))
}

func TestNewErrorInfo_Panic(t *testing.T) {
	info := NewErrorInfo(&PanicError{Value: "nil map"})
	assert.Equal(t, "job panicked: nil map", info.Message)
	assert.Equal(t, "*queue.PanicError", info.Type)
	assert.Equal(t, 0, info.Code)
}

func TestSanitizeQueueName(t *testing.T) {
	name, err := SanitizeQueueName("emails/high priority")
	require.NoError(t, err)
	assert.Equal(t, "emails_high_priority", name)

	name, err = SanitizeQueueName("default-1.v2")
	require.NoError(t, err)
	assert.Equal(t, "default-1.v2", name)

	for _, bad := range []string{"", ".", ".."} {
		_, err := SanitizeQueueName(bad)
		assert.True(t, errors.Is(err, ErrInvalidQueueName), "name %q", bad)
	}
}

type rejectedPayload struct {
	field string
}

func (e rejectedPayload) Error() string { return "missing " + e.field }

func TestNewErrorInfo_MultipleWraps(t *testing.T) {
	cause := rejectedPayload{field: "name"}
	err := fmt.Errorf("%w %s: %w", ErrCannotConstruct, "Greet", cause)

	info := NewErrorInfo(err)
	assert.Equal(t, "queue.rejectedPayload", info.Type)

	info = NewErrorInfo(errors.Join(errors.New("first"), &codedError{code: 7}))
	assert.Equal(t, "*queue.codedError", info.Type)
	assert.Equal(t, 7, info.Code)
}

func TestNewErrorInfo_ConstructionError(t *testing.T) {
	reg := NewRegistry()
	reg.Define("x", Definition{
		FromPayload: func(p Payload) (Job, error) { return nil, errors.New("bad payload") },
	})

	_, err := reg.Make("x", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCannotConstruct))

	info := NewErrorInfo(err)
	assert.Contains(t, info.Message, "bad payload")
	assert.Equal(t, "*errors.errorString", info.Type)
}
