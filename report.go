package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"ptpsync/pkg/exchange"
	"ptpsync/pkg/offset"
)

type multiSink []exchange.Sink

func (m multiSink) Report(r exchange.Result) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.Report(r))
	}
	return errors.Join(errs...)
}

func micros(r offset.Result) float64 {
	return float64(r.Offset) / 1e3
}

func describe(r offset.Result) string {
	switch r.Status() {
	case offset.Lags:
		return fmt.Sprintf("client clock is %.3f µs behind the server", micros(r))
	case offset.Leads:
		return fmt.Sprintf("client clock is %.3f µs ahead of the server", -micros(r))
	default:
		return "clocks are synchronized"
	}
}

type consoleSink struct {
	w io.Writer
}

func (s consoleSink) Report(r exchange.Result) error {
	_, err := fmt.Fprintf(s.w,
		"forward delay (t2-t1): %v\nreverse delay (t3-t4): %v\noffset: %.3f µs (%.9f s)\n%s\n",
		r.Offset.Forward, r.Offset.Reverse, micros(r.Offset), r.Offset.Offset.Seconds(), describe(r.Offset))
	return err
}

type fileSink struct {
	path string
}

func (s fileSink) Report(r exchange.Result) error {
	var b bytes.Buffer
	fmt.Fprintf(&b, "client id: %d\n", r.ClientID)
	fmt.Fprintf(&b, "offset: %d µs\n", r.Offset.Micros())
	fmt.Fprintf(&b, "offset: %.9f s\n", r.Offset.Offset.Seconds())
	fmt.Fprintf(&b, "%s\n", describe(r.Offset))
	if err := os.WriteFile(s.path, b.Bytes(), 0644); err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	return nil
}
