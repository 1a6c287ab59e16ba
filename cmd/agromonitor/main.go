package main

import (
	"github.com/agrovista/agromonitor/internal/cli"
)

func main() {
	cli.Execute()
}
