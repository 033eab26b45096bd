package main

import (
	"context"
	"fmt"
	"os"

	"gitlab.com/timkado/api/course-data-layer/internal/bootstrap"
	"gitlab.com/timkado/api/course-data-layer/pkg/contextkeys"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ctx = context.WithValue(ctx, contextkeys.RequestIDKey, "app-main")

	app, cleanup, err := bootstrap.InitializeApp(ctx)
	if err != nil {
		// The application logger is not available yet.
		fmt.Printf("Failed to initialize application: %v\n", err)
		os.Exit(1)
	}

	runErr := app.Run(ctx)
	// Background loops exit on cancel; cleanup waits for them.
	cancel()
	cleanup()
	if runErr != nil {
		fmt.Printf("Application run failed: %v\n", runErr)
		os.Exit(1)
	}

	fmt.Println("Application exited gracefully.")
}
