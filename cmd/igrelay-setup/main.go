// igrelay-setup runs the interactive .env wizard without starting the bot.
package main

import (
	"fmt"
	"os"

	"github.com/jusunglee/igrelay/internal/envsetup"
)

func main() {
	done, err := envsetup.Run()
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	if !done {
		fmt.Println("Setup aborted; no .env written.")
		os.Exit(1)
	}
	fmt.Println("Configuration written to .env")
}
