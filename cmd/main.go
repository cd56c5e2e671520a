package main

import (
	"github.com/unraid-agent/cmd/agent"
)

func main() {
	agent.Execute()
}
