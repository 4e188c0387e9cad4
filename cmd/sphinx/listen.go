package main

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mmende/pocketsphinx-go/internal/app"
	"github.com/mmende/pocketsphinx-go/internal/config"
	"github.com/mmende/pocketsphinx-go/pkg/audio"
	"github.com/mmende/pocketsphinx-go/pkg/stream"
)

// Search names used for keyphrase to grammar switching.
const (
	keyphraseSearch = "keyphrase"
	grammarSearch   = "grammar"
)

// chunkBytes is how much audio is read from the input at a time.
const chunkBytes = 4096

func (c *cli) listenCmd() *cobra.Command {
	var (
		ef        engineFlags
		keyphrase string
		grammar   string
		partials  bool
	)
	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Recognise live raw audio from standard input",
		Long: `Listen reads 16-bit little-endian mono PCM at the decoder rate from standard
input, detects utterances and prints recognition events as they happen.
For example:

  arecord -f S16_LE -r 16000 -c 1 -t raw | sphinx listen -p hmm=model/en-us -p lm=en-us.lm.bin

With --keyphrase and --grammar, each utterance is decoded with the keyphrase
search until the phrase is spotted; the utterance after that is decoded with
the grammar, after which listening returns to the keyphrase.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			if err := ef.apply(cfg); err != nil {
				return err
			}
			if err := addSwitching(cfg, keyphrase, grammar); err != nil {
				return err
			}
			if partials {
				cfg.Endpointer.Partials = true
			}

			ctx := cmd.Context()
			a, err := app.New(ctx, cfg, c.reg, app.WithLogger(c.log))
			if err != nil {
				return err
			}
			defer a.Shutdown(ctx)

			sess, err := a.Sessions().Open(ctx, app.SessionOptions{Search: ef.search, Remote: "stdin"})
			if err != nil {
				return err
			}
			defer sess.Close()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "listening on %s (search %s, %d Hz)\n", "stdin", sess.Info().Search, sess.SampleRate())

			in := cmd.InOrStdin()
			buf := make([]byte, chunkBytes)
			var carry []byte
			for ctx.Err() == nil {
				n, rerr := in.Read(buf)
				data := append(carry, buf[:n]...)
				even := len(data) &^ 1
				carry = append(carry[:0:0], data[even:]...)
				if even > 0 {
					samples, _ := audio.BytesToInt16(data[:even])
					events, err := sess.Process(ctx, samples)
					printEvents(out, events)
					if err != nil {
						return err
					}
				}
				if errors.Is(rerr, io.EOF) {
					break
				}
				if rerr != nil {
					return fmt.Errorf("read audio: %w", rerr)
				}
			}
			events, err := sess.Finish(ctx)
			printEvents(out, events)
			return err
		},
	}
	ef.bind(cmd)
	cmd.Flags().StringVar(&keyphrase, "keyphrase", "", "phrase that switches to the grammar")
	cmd.Flags().StringVar(&grammar, "grammar", "", "JSGF (.gram, .jsgf) or FSG (.fsg) grammar used after the keyphrase")
	cmd.Flags().BoolVar(&partials, "partials", false, "print partial hypotheses during speech")
	cmd.MarkFlagsRequiredTogether("keyphrase", "grammar")
	return cmd
}

// addSwitching adds the keyphrase and grammar searches to cfg and enables
// switching between them.
func addSwitching(cfg *config.Config, keyphrase, grammar string) error {
	if keyphrase == "" && grammar == "" {
		return nil
	}
	g := config.SearchConfig{Name: grammarSearch}
	switch strings.ToLower(filepath.Ext(grammar)) {
	case ".fsg":
		g.FSG = grammar
	case ".gram", ".jsgf":
		g.JSGF = grammar
	default:
		return fmt.Errorf("--grammar %q: want a .gram, .jsgf or .fsg file", grammar)
	}
	cfg.Engine.Searches = append(cfg.Engine.Searches,
		config.SearchConfig{Name: keyphraseSearch, Keyphrase: keyphrase},
		g,
	)
	cfg.Endpointer.KeywordSearch = keyphraseSearch
	cfg.Endpointer.CommandSearch = grammarSearch
	return config.Validate(cfg)
}

func printEvents(w io.Writer, events []stream.Event) {
	for _, ev := range events {
		switch ev.Type {
		case stream.SpeechStart:
			fmt.Fprintf(w, "[%8.2f] speech started\n", ev.Start.Seconds())
		case stream.Partial:
			if ev.Recognized {
				fmt.Fprintf(w, "[%8.2f] ... %s\n", ev.End.Seconds(), ev.Hypothesis.Text)
			}
		case stream.Final:
			text := ev.Hypothesis.Text
			if !ev.Recognized {
				text = "(nothing recognised)"
			}
			fmt.Fprintf(w, "[%8.2f] %s: %s\n", ev.End.Seconds(), ev.Search, text)
		case stream.SpeechEnd:
			fmt.Fprintf(w, "[%8.2f] speech ended\n", ev.End.Seconds())
		}
	}
}
