package root

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "luggage",
	Short: "Luggage job queue CLI",
	Long:  `Dispatch, process and inspect jobs on a durable Luggage queue.`,
}

// SetInfo replaces the name and descriptions of the root command.
func SetInfo(use, short, long string) {
	rootCmd.Use = use
	rootCmd.Short = short
	rootCmd.Long = long
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func GetRoot() *cobra.Command {
	return rootCmd
}
