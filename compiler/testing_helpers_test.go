package compiler

import (
	"io"
	"time"
)

const (
	testEventuallyWait = 2 * time.Second
	testEventuallyTick = 5 * time.Millisecond
)

func done1s() <-chan time.Time {
	return time.After(time.Second)
}

var discardWriter io.Writer = io.Discard
