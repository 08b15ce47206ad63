package main

import "github.com/vietddude/llmrouter/internal/cli"

func main() {
	cli.Execute()
}
