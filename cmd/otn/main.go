package main

import "github.com/OpenTraceLab/OpenTraceNAND/cmd/otn/cmd"

func main() {
	cmd.Execute()
}
