package main

import "github.com/vietddude/streamledger/internal/cli"

func main() {
	cli.Execute()
}
