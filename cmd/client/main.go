package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"PRelay/logger"
	"PRelay/service/client"

	"github.com/fatih/color"
	"github.com/google/uuid"
)

func main() {
	wsURL := flag.String("url", "", "websocket URL, e.g. ws://127.0.0.1:8090/ws")
	userID := flag.String("user-id", "", "user id, generated when empty")
	modeFlag := flag.String("mode", "direct", "relay strategy: direct or log")
	logLevel := flag.String("log-level", "warn", "log level")
	flag.Parse()

	logger.Setup(*logLevel, "console")
	defer logger.Sync()
	warn := color.New(color.FgYellow).SprintFunc()

	if *wsURL == "" {
		fmt.Fprintln(os.Stderr, "-url is required")
		os.Exit(2)
	}
	mode, err := client.ParseMode(*modeFlag)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if *userID == "" {
		*userID = uuid.NewString()
		fmt.Printf("%s Generated user ID: %s\n", warn("⚠"), *userID)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	ws, err := client.Dial(dialCtx, *wsURL, *userID)
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Type your messages and press Enter to send. Ctrl+C to exit.")

	s := client.NewSession(*userID, mode, ws, color.Output)
	if err := s.Run(ctx, os.Stdin); err != nil {
		fmt.Fprintf(os.Stderr, "session: %v\n", err)
		os.Exit(1)
	}
}
