package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lzjever/infrawiz/internal/validate"
)

// errSilent ends the command with a failing exit status once its output
// has already explained why.
var errSilent = errors.New("silent failure")

var descriptionFile string

var validateCmd = &cobra.Command{
	Use:   "validate [description...]",
	Short: "Check a project description before analysis",
	Long: `Check a project description the same way analyze does before it is sent
to the backend. The description is read from the arguments, from --file, or
from stdin when neither is given.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		text, err := readDescription(args)
		if err != nil {
			return err
		}
		res := validate.ProjectDescription(text)
		if err := printResult(res); err != nil {
			return err
		}
		if !res.IsValid {
			return errSilent
		}
		return nil
	},
}

// readDescription joins args, or reads --file ("-" for stdin), or stdin.
func readDescription(args []string) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	var r io.Reader = os.Stdin
	if descriptionFile != "" && descriptionFile != "-" {
		f, err := os.Open(descriptionFile)
		if err != nil {
			return "", fmt.Errorf("open description: %w", err)
		}
		defer f.Close()
		r = f
	}
	b, err := io.ReadAll(io.LimitReader(r, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read description: %w", err)
	}
	return string(b), nil
}

func init() {
	validateCmd.Flags().StringVarP(&descriptionFile, "file", "f", "", "read the description from a file")
	rootCmd.AddCommand(validateCmd)
}
