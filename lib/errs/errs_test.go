package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		msg  string
		kind Kind
	}{
		{"NOAUTH Authentication required.", KindAuthentication},
		{"WRONGPASS invalid username-password pair or user is disabled.", KindAuthentication},
		{"ERR invalid password", KindAuthentication},
		{"READONLY You can't write against a read only replica.", KindReadOnly},
		{"MOVED 3999 127.0.0.1:6381", KindClusterRouting},
		{"ASK 3999 127.0.0.1:6381", KindClusterRouting},
		{"CROSSSLOT Keys in request don't hash to the same slot", KindClusterRouting},
		{"WRONGTYPE Operation against a key holding the wrong kind of value", KindServer},
		{"NOSCRIPT No matching script.", KindServer},
	}
	for _, c := range cases {
		assert.Equal(t, c.kind, Classify(c.msg), c.msg)
	}
}

func TestServerErrorMatchesKind(t *testing.T) {
	err := fmt.Errorf("set: %w", &ServerError{Msg: "READONLY You can't write against a read only replica."})
	assert.True(t, IsReadOnly(err))
	assert.True(t, errors.Is(err, ErrReadOnly))
	assert.True(t, errors.Is(err, ErrServer))
	assert.False(t, errors.Is(err, ErrConnection))

	var se *ServerError
	assert.True(t, errors.As(err, &se))
	assert.Equal(t, "READONLY", se.Prefix())
	assert.False(t, se.IsScriptError())
	assert.True(t, (&ServerError{Msg: "NOSCRIPT No matching script."}).IsScriptError())
}

func TestErrorKindsAndMessages(t *testing.T) {
	cause := errors.New("i/o timeout")
	err := &Error{Kind: KindConnection, Op: "read", Node: "127.0.0.1:6379", Err: cause, Timeout: true}
	assert.Equal(t, "redis: read: i/o timeout [127.0.0.1:6379]", err.Error())
	assert.True(t, IsTimeout(err))
	assert.True(t, errors.Is(err, ErrConnection))
	assert.True(t, errors.Is(err, cause))
	assert.False(t, IsFatal(err))

	cfg := Configf("invalid timeout %d", -2)
	assert.True(t, IsConfiguration(cfg))
	assert.True(t, IsFatal(cfg))
	assert.Equal(t, "redis: config: invalid timeout -2", cfg.Error())

	assert.True(t, errors.Is(fmt.Errorf("multi: %w", ErrPipelineOpen), ErrPipelineOpen))
	assert.True(t, IsFatal(ErrPipelineOpen))
	assert.Equal(t, KindUnknown, KindOf(cause))
	assert.Equal(t, "read-only", KindReadOnly.String())
}

func TestParseRedirect(t *testing.T) {
	ask, slot, addr, ok := ParseRedirect("MOVED 3999 127.0.0.1:6381")
	assert.True(t, ok)
	assert.False(t, ask)
	assert.Equal(t, 3999, slot)
	assert.Equal(t, "127.0.0.1:6381", addr)

	ask, _, _, ok = ParseRedirect("ASK 1 10.0.0.1:7000")
	assert.True(t, ok)
	assert.True(t, ask)

	_, _, _, ok = ParseRedirect("ERR something else")
	assert.False(t, ok)
	_, _, _, ok = ParseRedirect("MOVED x 127.0.0.1:1")
	assert.False(t, ok)
}
