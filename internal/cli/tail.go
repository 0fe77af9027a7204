package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var tailLogPath string

var tailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Tail the supervisor's log file",
	Long:  "Follow the log file (given with --log) that the supervisor's output was redirected to, printing new lines as they are written.",
	RunE:  runTail,
}

func init() {
	tailCmd.Flags().StringVar(&tailLogPath, "log", "", "path to the log file to follow")
}

func runTail(_ *cobra.Command, _ []string) error {
	if tailLogPath == "" {
		return fmt.Errorf("fleetctl tail: --log is required")
	}

	f, err := os.Open(tailLogPath)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		return err
	}

	reader := bufio.NewReader(f)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			time.Sleep(500 * time.Millisecond)
			continue
		}
		fmt.Print(line)
	}
}
