// Command softphonectl drives a running softphone over its control and
// status APIs.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd(defaultDialer{}).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
