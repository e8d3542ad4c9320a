package main

import (
	"fmt"
	"os"

	"github.com/ticpu/fuse-img2heic/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
