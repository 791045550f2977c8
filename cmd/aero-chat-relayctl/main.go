// Command aero-chat-relayctl inspects a running aero-chat-relay over HTTP.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
