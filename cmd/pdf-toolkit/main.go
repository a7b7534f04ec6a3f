package main

import "os"

// main runs the root command. Cobra prints the error; the exit code reports it.
func main() {
	if err := Execute(); err != nil {
		os.Exit(1)
	}
}
