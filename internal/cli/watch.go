package cli

import (
	"bufio"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"
)

func watchCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "watch [instance-id]",
		Short: "Attach to an instance as its page and relay lifecycle signals typed on stdin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := WatchURL(addr, args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Connecting to %s...\n", target)

			client, err := NewClient(target)
			if err != nil {
				return err
			}
			defer client.Close()

			fmt.Fprintln(out, "Connected. Type bootstrap, focus, blur or stop and press Enter.")
			fmt.Fprintln(out, "Commands: /quit to exit")

			readErr := make(chan error, 1)
			go func() { readErr <- client.ReadMessages(out, false) }()

			interrupt := make(chan os.Signal, 1)
			signal.Notify(interrupt, os.Interrupt)
			defer signal.Stop(interrupt)

			lines := make(chan string)
			go func() {
				scanner := bufio.NewScanner(cmd.InOrStdin())
				for scanner.Scan() {
					lines <- strings.TrimSpace(scanner.Text())
				}
				close(lines)
			}()

			for {
				select {
				case <-interrupt:
					fmt.Fprintln(out, "\nInterrupted")
					return nil
				case err := <-readErr:
					return err
				case input, ok := <-lines:
					if !ok || input == "/quit" {
						return nil
					}
					if input == "" {
						continue
					}
					if err := client.SendSignal(input); err != nil {
						fmt.Fprintf(out, "Send error: %v\n", err)
					}
				}
			}
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "ws://localhost:8080/ws", "Page WebSocket address")
	return cmd
}
