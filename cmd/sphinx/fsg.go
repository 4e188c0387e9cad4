package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mmende/pocketsphinx-go/pkg/fsg"
)

var errRejected = errors.New("sentence rejected by grammar")

func (c *cli) fsgCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fsg",
		Short: "Inspect finite-state grammars",
	}

	var sentences, maxWords int
	check := &cobra.Command{
		Use:   "check FILE",
		Short: "Validate a grammar and print its vocabulary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := fsg.ParseFile(args[0])
			if err != nil {
				return err
			}
			if err := g.Validate(); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			name := g.Name
			if name == "" {
				name = "(unnamed)"
			}
			vocab := g.Vocabulary()
			fmt.Fprintf(out, "%s: %d states, %d transitions, %d words\n", name, g.NumStates, len(g.Transitions), len(vocab))
			fmt.Fprintf(out, "vocabulary: %s\n", strings.Join(vocab, " "))
			for _, s := range g.Sentences(sentences, maxWords) {
				fmt.Fprintf(out, "  %s\n", s)
			}
			return nil
		},
	}
	check.Flags().IntVar(&sentences, "sentences", 0, "print up to N accepted sentences")
	check.Flags().IntVar(&maxWords, "max-words", 10, "longest sentence explored by --sentences")

	accept := &cobra.Command{
		Use:   "accept FILE WORDS...",
		Short: "Check whether the grammar accepts a word sequence",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := fsg.ParseFile(args[0])
			if err != nil {
				return err
			}
			words := strings.Join(args[1:], " ")
			if !g.Accept(words) {
				return fmt.Errorf("%q: %w", words, errRejected)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "accepted: %s\n", words)
			return nil
		},
	}

	cmd.AddCommand(check, accept)
	return cmd
}
