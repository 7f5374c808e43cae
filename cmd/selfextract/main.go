package main

import (
	"github.com/psvtools/selfextract/internal/cmd"
)

func main() {
	cmd.Execute()
}
