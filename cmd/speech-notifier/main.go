// main package for the speech notifier command line.
package main

import (
	"fmt"
	"os"

	"github.com/book-expert/logger"
)

const bootstrapLogFile = "speech-notifier-bootstrap.log"

func setupLogger(logPath, fileName string) (*logger.Logger, error) {
	log, err := logger.New(logPath, fileName)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return log, nil
}

func run(args []string) error {
	bootstrapLog, err := setupLogger(os.TempDir(), bootstrapLogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to create bootstrap logger: %v\n", err)

		return err
	}

	defer func() {
		closeErr := bootstrapLog.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing bootstrap logger: %v\n", closeErr)
		}
	}()

	root := newRootCommand(newApp(bootstrapLog))
	root.SetArgs(args)

	return root.Execute()
}

func main() {
	err := run(os.Args[1:])
	if err != nil {
		os.Exit(1)
	}
}
