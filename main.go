package main

import (
	"github.com/ColonelBlimp/apmetric/cmd"
	"github.com/ColonelBlimp/apmetric/internal/recovery"
)

func main() {
	defer recovery.HandlePanic()
	cmd.Execute()
}
