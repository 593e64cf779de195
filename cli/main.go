// Command ytsheets syncs YouTube channel uploads into a Google Sheets tab.
package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
)

func main() {
	// Load environment variables from .env file if it exists
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Warning: could not load .env file: %v\n", err)
	}

	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitCode(err))
	}
}
