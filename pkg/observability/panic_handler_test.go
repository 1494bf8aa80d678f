package observability

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRecoverPanic(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	assert.NotPanics(t, func() {
		defer RecoverPanic(logger, "rollup")
		panic("boom")
	})

	entry := decodeEntry(t, &buf)
	assert.Equal(t, "PANIC recovered", entry["msg"])
	assert.Equal(t, "boom", entry["panic"])
	assert.Equal(t, "rollup", entry["context"])
}

func TestRecoverPanicWithCallback(t *testing.T) {
	var got interface{}
	callback := func(r interface{}) { got = r }

	func() {
		defer RecoverPanicWithCallback(NewLogger(InfoLevel, &bytes.Buffer{}), "notify", callback)
		panic("smtp down")
	}()
	assert.Equal(t, "smtp down", got)

	got = nil
	func() {
		defer RecoverPanicWithCallback(nil, "notify", callback)
	}()
	assert.Nil(t, got)
}
