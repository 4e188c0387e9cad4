package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/mmende/pocketsphinx-go/pkg/decoder"
)

func (c *cli) alignCmd() *cobra.Command {
	var (
		ef     engineFlags
		text   string
		states bool
	)
	cmd := &cobra.Command{
		Use:   "align --text TRANSCRIPT FILE",
		Short: "Force-align a transcript to an audio file",
		Long: `Align runs two passes over the audio. The first aligns the transcript at
word level; the second realigns the resulting word segmentation to obtain
phone and state durations.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			if err := ef.apply(cfg); err != nil {
				return err
			}
			rec, err := openRecognizer(c.reg, cfg.Engine)
			if err != nil {
				return err
			}
			defer rec.Close()

			samples, err := readAudio(args[0], rec.sampleRate())
			if err != nil {
				return err
			}
			dec, err := rec.newDecoder(ef.search, decoder.WithLogger(c.log))
			if err != nil {
				return err
			}
			defer dec.Close()

			tree, err := align(dec, text, samples)
			if err != nil {
				return err
			}
			printAlignment(cmd.OutOrStdout(), tree, states)
			return nil
		},
	}
	ef.bind(cmd)
	cmd.Flags().StringVarP(&text, "text", "t", "", "transcript to align (required)")
	cmd.Flags().BoolVar(&states, "states", false, "also print HMM states")
	_ = cmd.MarkFlagRequired("text")
	return cmd
}

// align decodes samples twice: against the forced alignment of text, then
// against the state alignment built from the first pass.
func align(dec *decoder.Decoder, text string, samples []int16) (*decoder.AlignmentTree, error) {
	if err := dec.SetAlignText(text); err != nil {
		return nil, err
	}
	pass := func(name string) error {
		if err := dec.StartUtt(); err != nil {
			return fmt.Errorf("%s pass: %w", name, err)
		}
		if _, err := dec.ProcessRaw(samples, false, true); err != nil {
			return fmt.Errorf("%s pass: %w", name, err)
		}
		if err := dec.EndUtt(); err != nil {
			return fmt.Errorf("%s pass: %w", name, err)
		}
		return nil
	}
	if err := pass("word"); err != nil {
		return nil, err
	}
	if err := dec.SetAlignment(); err != nil {
		return nil, fmt.Errorf("transcript did not align: %w", err)
	}
	if err := pass("state"); err != nil {
		return nil, err
	}
	tree, ok := dec.Alignment()
	if !ok {
		return nil, errors.New("engine produced no alignment")
	}
	return tree, tree.Validate()
}

func printAlignment(w io.Writer, tree *decoder.AlignmentTree, states bool) {
	row := func(indent int, n decoder.AlignmentNode) {
		start, end := n.Time()
		fmt.Fprintf(w, "%*s%-*s %7.2f %7.2f %6d\n", indent, "", 20-indent, n.Name, start, end, n.Score)
	}
	fmt.Fprintf(w, "%-20s %7s %7s %6s\n", "unit", "start", "end", "score")
	for word := range tree.Words() {
		row(0, word)
		phones, _ := word.Children()
		for phone := range phones {
			row(2, phone)
			if !states {
				continue
			}
			children, _ := phone.Children()
			for state := range children {
				row(4, state)
			}
		}
	}
}
