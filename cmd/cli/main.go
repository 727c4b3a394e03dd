package main

import "github.com/toolchainlabs/tokensvc/internal/cli"

func main() {
	cli.Execute()
}
