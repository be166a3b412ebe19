// Command streamchat runs the chat stream server or an interactive terminal
// client against it.
//
//	streamchat serve --model openai --addr :8000
//	streamchat chat --endpoint http://localhost:8000/api/chat --token secret
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
