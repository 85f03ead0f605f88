package main

import (
	"log/slog"
	"os"

	"github.com/mabdela/Text-Conferencing-App/internal/v1/client"
)

func main() {
	session := client.NewSession()
	repl := client.NewREPL(session, os.Stdout)

	if err := repl.Run(os.Stdin); err != nil {
		slog.Error("Input stream failed", "error", err)
		os.Exit(1)
	}
	session.Close()
}
