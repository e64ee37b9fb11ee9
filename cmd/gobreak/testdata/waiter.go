package main

import (
	"fmt"
	"os"
	"time"

	"github.com/gobreak/gobreak/breakpoint"
)

// waiter is a target for exercising the attach workflow end to end:
//
//	go build -o waiter ./cmd/gobreak/testdata
//	./waiter &
//	gobreak attach --pid $!
func main() {
	fmt.Printf("waiter running, PID %d, marker symbol %s\n", os.Getpid(), breakpoint.Symbol)

	breakpoint.Enable(nil)
	for {
		breakpoint.Set()
		time.Sleep(1 * time.Second)
	}
}
