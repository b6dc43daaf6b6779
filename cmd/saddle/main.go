// Package main provides the Saddle CLI.
package main

import (
	"fmt"
	"os"
)

const version = "v0.0.1-dev"

func main() {
	if len(os.Args) > 1 && os.Args[1] == "version" {
		fmt.Printf("Saddle NLP Evaluator %s\n", version)
		return
	}

	fmt.Println("Saddle - Sparse Nonlinear Expression Evaluation for Go")
	fmt.Printf("Version: %s\n\n", version)
	fmt.Println("Commands:")
	fmt.Println("  version    Show version")
}
