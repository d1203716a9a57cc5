package main

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/manpreetbhatti/classboard/internal/discovery"
)

const FlagTimeout = "timeout"

// GetDiscoverCmd returns the LAN relay discovery command.
func GetDiscoverCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Find classboard servers on the local network",
		Run: func(cmd *cobra.Command, args []string) {
			timeout, err := cmd.Flags().GetDuration(FlagTimeout)
			if err != nil {
				log.Fatalf("%s flag: %v", FlagTimeout, err)
			}

			count := 0
			err = discovery.Browse(context.Background(), timeout, func(s discovery.Service) {
				count++
				fmt.Printf("%s\t%s\t%s\n", s.Instance, s.URL(), strings.Join(s.Info, " "))
			})
			if err != nil {
				log.Fatalf("discover: %v", err)
			}
			if count == 0 {
				log.Printf("no servers answered within %v", timeout)
			}
		},
	}
	cmd.Flags().Duration(FlagTimeout, 3*time.Second, "(optional) how long to listen for answers")

	return cmd
}

func init() {
	rootCmd.AddCommand(GetDiscoverCmd())
}
