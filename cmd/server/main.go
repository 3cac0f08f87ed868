package main

import (
	"fmt"
	"log"
	"os"

	"github.com/Tyrowin/peerchat/internal/input"
	"github.com/Tyrowin/peerchat/internal/server"
	"github.com/Tyrowin/peerchat/internal/transport"
)

func main() {
	fmt.Println("Starting peerchat server...")

	// Create configuration
	config := server.NewConfigFromEnv()

	// Create the transport layer and the non-blocking console reader
	sockets := transport.New(nil)
	console := input.NewReader(os.Stdin)

	// Create and run the server loop
	srv := server.New(config, sockets, console)
	if err := srv.Run(); err != nil {
		log.Fatal(err)
	}

	// The console reader goroutine is stuck in a blocking read that cannot
	// be interrupted, so exit the process instead of joining it.
	os.Exit(0)
}
