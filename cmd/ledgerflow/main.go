// Command ledgerflow deploys and executes smart legal contracts and serves the workflows over HTTP.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/luno/ledgerflow"
)

func main() {
	err := newRootCommand().Execute()
	if err == nil {
		return
	}

	// Failures have already been written as an envelope.
	var f *ledgerflow.Failure
	if !errors.As(err, &f) {
		fmt.Fprintln(os.Stderr, err)
	}

	os.Exit(1)
}
