package main

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/cognicore/openbr/pkg/br"
)

func optionalArg(args []string, i int) string {
	if i < len(args) {
		return args[i]
	}
	return ""
}

func newTrainCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "train <algorithm> <input> [model]",
		Short: "Train an algorithm and optionally store it as a model",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return br.Train(cmd.Context(), args[0], args[1], optionalArg(args, 2))
		},
	}
}

func newEnrollCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "enroll <algorithm> <input> [gallery]",
		Short: "Enroll every record of input into a gallery",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			files, err := br.Enroll(cmd.Context(), args[0], args[1], optionalArg(args, 2))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "enrolled %s templates\n", humanize.Comma(int64(len(files))))
			return nil
		},
	}
}

func newProjectCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "project <algorithm> <input> <gallery>",
		Short: "Run the full enrollment stage from one gallery to another",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return br.Project(cmd.Context(), args[0], args[1], args[2])
		},
	}
}

func newCompareCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "compare <algorithm> <target> <query> [output]",
		Short: "Score every target against every query",
		Long:  `Writes a target by query score matrix. A query of "." compares target with itself.`,
		Args:  cobra.RangeArgs(3, 4),
		RunE: func(cmd *cobra.Command, args []string) error {
			return br.Compare(cmd.Context(), args[0], args[1], args[2], optionalArg(args, 3))
		},
	}
}

func newPairwiseCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "pairwise <algorithm> <target> <query> [output]",
		Short: "Score the i-th target against the i-th query",
		Args:  cobra.RangeArgs(3, 4),
		RunE: func(cmd *cobra.Command, args []string) error {
			return br.PairwiseCompare(cmd.Context(), args[0], args[1], args[2], optionalArg(args, 3))
		},
	}
}

func newDedupCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "dedup <algorithm> <input> <output> <threshold>",
		Short: "Copy a gallery without records scoring above threshold against an earlier one",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			return br.Deduplicate(cmd.Context(), args[0], args[1], args[2], args[3])
		},
	}
}

func newConvertCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "convert <Gallery|Output> <input> <output>",
		Short: "Convert a gallery or an .mtx score matrix to another format",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return br.Convert(cmd.Context(), args[0], args[1], args[2])
		},
	}
}

func newCatCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "cat <input>... <output>",
		Short: "Concatenate galleries",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return br.Cat(cmd.Context(), args[:len(args)-1], args[len(args)-1])
		},
	}
}

func newClassifierCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "classifier <algorithm>",
		Short: "Report whether an algorithm only enrolls",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ok, err := br.IsClassifier(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), ok)
			return nil
		},
	}
}

// newWorkerCommand is started by multi-process pipelines; it speaks the
// worker protocol on stdin and stdout.
func newWorkerCommand() *cobra.Command {
	return &cobra.Command{
		Use:    "worker",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return br.ServeWorker(cmd.Context(), os.Stdin, os.Stdout)
		},
	}
}
