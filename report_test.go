package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"ptpsync/pkg/exchange"
	"ptpsync/pkg/message"
	"ptpsync/pkg/offset"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func result(t1, t2, t3, t4 int64) exchange.Result {
	us := func(v int64) message.Timestamp { return message.Timestamp(v * int64(time.Microsecond)) }
	return exchange.Result{
		ClientID: 31337,
		Attempt:  1,
		Offset:   offset.Compute(us(t1), us(t2), us(t3), us(t4)),
	}
}

func TestDescribe(t *testing.T) {
	assert.Equal(t, "client clock is 100.000 µs behind the server", describe(result(1_000_000, 1_000_500, 2_000_000, 2_000_300).Offset))
	assert.Equal(t, "client clock is 50.000 µs ahead of the server", describe(result(0, 0, 0, 100).Offset))
	assert.Equal(t, "clocks are synchronized", describe(result(0, 10, 20, 30).Offset))
}

func TestFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "result.txt")
	require.NoError(t, fileSink{path}.Report(result(1_000_000, 1_000_500, 2_000_000, 2_000_300)))

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t,
		"client id: 31337\n"+
			"offset: 100 µs\n"+
			"offset: 0.000100000 s\n"+
			"client clock is 100.000 µs behind the server\n",
		string(content))
}

func TestConsoleSink(t *testing.T) {
	var b bytes.Buffer
	require.NoError(t, consoleSink{&b}.Report(result(1_000_000, 1_000_500, 2_000_000, 2_000_300)))
	assert.Equal(t,
		"forward delay (t2-t1): 500µs\n"+
			"reverse delay (t3-t4): -300µs\n"+
			"offset: 100.000 µs (0.000100000 s)\n"+
			"client clock is 100.000 µs behind the server\n",
		b.String())
}

type failingSink struct{}

func (failingSink) Report(exchange.Result) error { return errors.New("boom") }

func TestMultiSinkReportsAll(t *testing.T) {
	var b bytes.Buffer
	err := multiSink{failingSink{}, consoleSink{&b}}.Report(result(0, 0, 0, 0))
	assert.EqualError(t, err, "boom")
	assert.Contains(t, b.String(), "clocks are synchronized")
}
