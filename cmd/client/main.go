package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/Tyrowin/peerchat/internal/client"
	"github.com/Tyrowin/peerchat/internal/input"
	"github.com/Tyrowin/peerchat/internal/transport"
)

func main() {
	config := client.NewConfig()
	flag.StringVar(&config.ServerAddr, "server", config.ServerAddr, "chat server address (host:port)")
	flag.Parse()

	fmt.Println("Starting peerchat client...")

	sockets := transport.New(nil)
	console := input.NewReader(os.Stdin)

	c := client.New(config, sockets, console)
	if err := c.Run(); err != nil {
		log.Fatal(err)
	}

	// The console reader goroutine is stuck in a blocking read that cannot
	// be interrupted, so exit the process instead of joining it.
	os.Exit(0)
}
