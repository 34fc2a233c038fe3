package main

import "github.com/mihaisavezi/hermesllm/cmd"

func main() {
	cmd.Execute()
}
