package main

import (
	"fmt"
	"io"
	"runtime"
	"slices"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/mmende/pocketsphinx-go/pkg/decoder"
)

type decodeResult struct {
	path     string
	hyp      decoder.Hypothesis
	ok       bool
	segments []decoder.Segment
	nbest    []decoder.Hypothesis
	perf     decoder.Performance
	err      error
}

func (c *cli) decodeCmd() *cobra.Command {
	var (
		ef       engineFlags
		jobs     int
		segments bool
		nbest    int
		timing   bool
	)
	cmd := &cobra.Command{
		Use:   "decode FILE...",
		Short: "Decode whole audio files",
		Long: `Decode each file as a single utterance. Files ending in .wav are read as
RIFF/WAVE and resampled to the decoder rate; anything else is taken as raw
16-bit little-endian mono PCM at the decoder rate.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, files []string) error {
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

			results := make([]decodeResult, len(files))
			g, ctx := errgroup.WithContext(cmd.Context())
			g.SetLimit(max(jobs, 1))
			for i, path := range files {
				g.Go(func() error {
					if err := ctx.Err(); err != nil {
						return err
					}
					results[i] = c.decodeFile(rec, ef.search, path, nbest)
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				return err
			}

			failed := 0
			for _, r := range results {
				if r.err != nil {
					failed++
					c.log.Error("decode failed", "file", r.path, "err", r.err)
					continue
				}
				printResult(cmd.OutOrStdout(), r, rec.frameRate(), segments, timing)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d files failed", failed, len(files))
			}
			return nil
		},
	}
	ef.bind(cmd)
	cmd.Flags().IntVarP(&jobs, "jobs", "j", runtime.NumCPU(), "files decoded in parallel")
	cmd.Flags().BoolVar(&segments, "segments", false, "print the word segmentation")
	cmd.Flags().IntVar(&nbest, "nbest", 0, "print up to N alternative hypotheses")
	cmd.Flags().BoolVar(&timing, "timing", false, "print decoding speed")
	return cmd
}

func (c *cli) decodeFile(rec *recognizer, search, path string, nbest int) decodeResult {
	res := decodeResult{path: path}
	samples, err := readAudio(path, rec.sampleRate())
	if err != nil {
		res.err = err
		return res
	}
	dec, err := rec.newDecoder(search, decoder.WithLogger(c.log.With("file", path)))
	if err != nil {
		res.err = err
		return res
	}
	defer dec.Close()

	if err := dec.StartUtt(); err != nil {
		res.err = err
		return res
	}
	if _, err := dec.ProcessRaw(samples, false, true); err != nil {
		res.err = err
		return res
	}
	if err := dec.EndUtt(); err != nil {
		res.err = err
		return res
	}
	res.hyp, res.ok = dec.Hypothesis()
	res.segments = slices.Collect(dec.Segments())
	if nbest > 0 {
		res.nbest = slices.Collect(dec.NBest(nbest))
	}
	res.perf = dec.UttTime()
	return res
}

func printResult(w io.Writer, r decodeResult, frameRate int, segments, timing bool) {
	if !r.ok {
		fmt.Fprintf(w, "%s: (no hypothesis)\n", r.path)
		return
	}
	fmt.Fprintf(w, "%s: %s (score %d, prob %d)\n", r.path, r.hyp.Text, r.hyp.Score, r.hyp.Prob)
	if segments {
		for _, s := range r.segments {
			fmt.Fprintf(w, "  %-20s %7.2f %7.2f  ascr=%d lscr=%d prob=%d\n",
				s.Word, seconds(s.Start, frameRate), seconds(s.End+1, frameRate), s.Ascr, s.Lscr, s.Prob)
		}
	}
	for i, h := range r.nbest {
		fmt.Fprintf(w, "  %2d. %s (score %d)\n", i+1, h.Text, h.Score)
	}
	if timing {
		fmt.Fprintf(w, "  %s of audio in %s (%.2fx real time)\n",
			r.perf.Speech.Round(time.Millisecond), r.perf.Wall.Round(time.Millisecond), r.perf.RealTimeFactor())
	}
}

func seconds(frame, frameRate int) float64 {
	if frameRate <= 0 {
		return 0
	}
	return float64(frame) / float64(frameRate)
}
