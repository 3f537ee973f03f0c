package infra

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

var initPC = caller()

func caller() Frame {
	var PCs [3]uintptr
	n := runtime.Callers(2, PCs[:])
	frames := runtime.CallersFrames(PCs[:n])
	frame, _ := frames.Next()
	return Frame(frame.PC)
}

func TestFrameFormat(t *testing.T) {
	testcases := []struct {
		Frame
		format string
		want   string
	}{
		{
			initPC,
			"%s",
			"err_stack_test.go",
		},
		{
			initPC,
			"%n",
			"init",
		},
		{
			Frame(0),
			"%s",
			"unknownFile",
		},
		{
			Frame(0),
			"%n",
			"unknownFunc",
		},
		{
			Frame(0),
			"%d",
			"0",
		},
	}

	for _, tc := range testcases {
		frameRes := fmt.Sprintf(tc.format, tc.Frame)
		require.Equal(t, tc.want, frameRes)
	}

	full := fmt.Sprintf("%+s", initPC)
	require.True(t, strings.HasPrefix(full, "github.com/benz9527/xavl/lib/infra.init\n\t"))
	require.True(t, strings.HasSuffix(full, "err_stack_test.go"))
	require.True(t, strings.HasPrefix(fmt.Sprintf("%v", initPC), "err_stack_test.go:"))
}

func TestFrameMarshal(t *testing.T) {
	text, err := Frame(0).MarshalText()
	require.NoError(t, err)
	require.True(t, bytes.Equal([]byte("unknownFrame"), text))

	_bytes, err := json.Marshal(Frame(0))
	require.NoError(t, err)
	require.True(t, bytes.Equal([]byte("{\"frame\":\"unknownFrame\"}"), _bytes))

	_bytes, err = json.Marshal(initPC)
	require.NoError(t, err)
	m := map[string]string{}
	require.NoError(t, json.Unmarshal(_bytes, &m))
	require.Equal(t, "github.com/benz9527/xavl/lib/infra.init", m["func"])
	require.Contains(t, m["fileAndLine"], "err_stack_test.go:")
}

func TestErrorStack(t *testing.T) {
	err := NewErrorStack("boom")
	require.Equal(t, "boom", err.Error())

	var es ErrorStack
	require.True(t, errors.As(err, &es))
	require.NotEmpty(t, es.Frames())
	require.Contains(t, fmt.Sprintf("%n", es.Frames()[0]), "TestErrorStack")
	require.Contains(t, fmt.Sprintf("%+v", err), "err_stack_test.go")

	sentinel := errors.New("[x-avl] sentinel")
	wrapped := WrapErrorStackWithMessage(sentinel, "key 7")
	require.ErrorIs(t, wrapped, sentinel)
	require.Equal(t, "key 7: [x-avl] sentinel", wrapped.Error())

	require.Nil(t, WrapErrorStack(nil))
	require.Nil(t, WrapErrorStackWithMessage(nil, "nothing"))
	require.Same(t, err, WrapErrorStack(err))
	require.Equal(t, sentinel.Error(), WrapErrorStack(sentinel).Error())
}

func TestErrorStackMarshalLogObject(t *testing.T) {
	err := WrapErrorStackWithMessage(errors.New("cause"), "msg")
	es, ok := err.(ErrorStack)
	require.True(t, ok)

	enc := zapcore.NewMapObjectEncoder()
	require.NoError(t, es.MarshalLogObject(enc))
	require.Equal(t, "msg: cause", enc.Fields["error"])
	frames, ok := enc.Fields["errorStack"].([]interface{})
	require.True(t, ok)
	require.NotEmpty(t, frames)
}
