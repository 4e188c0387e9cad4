package decoder

import (
	"fmt"
	"iter"
	"slices"
	"time"

	"github.com/mmende/pocketsphinx-go/pkg/audio"
	"github.com/mmende/pocketsphinx-go/pkg/engine"
)

// StartUtt begins a new utterance with the active search. It is legal in
// every state; an utterance that is still running is abandoned. Noise
// statistics carry over from previous utterances.
func (d *Decoder) StartUtt() error {
	if d.closed {
		return fmt.Errorf("decoder: start utterance: %w", ErrUsage)
	}
	if d.active == "" {
		return fmt.Errorf("decoder: start utterance: %w", ErrNoActiveSearch)
	}
	d.abandon("restart")
	if err := d.releaseUtt(); err != nil {
		d.log.Warn("decoder: release utterance search", "err", err)
	}

	h := d.searches[d.active].Retain()
	if err := d.eng.Get().Begin(h.Get()); err != nil {
		_ = h.Close()
		d.state = Idle
		return fmt.Errorf("decoder: start utterance: %w", err)
	}
	d.utt, d.uttSearch = h, d.active
	d.state = Active
	d.broken = false
	d.uttPerf = Performance{}
	d.obs.UtteranceStarted(d.uttSearch, h.Get().Kind())
	return nil
}

// abandon ends a running utterance without finalizing it.
func (d *Decoder) abandon(reason string) {
	if d.state != Active {
		return
	}
	d.log.Warn("decoder: abandoning unfinished utterance", "search", d.uttSearch, "reason", reason)
	d.obs.UtteranceEnded(d.uttSearch, d.uttKind(), d.eng.Get().NFrames(), d.uttPerf, false)
	d.state = Ended
}

func (d *Decoder) releaseUtt() error {
	if d.utt == nil {
		return nil
	}
	err := d.utt.Close()
	d.utt = nil
	return err
}

func (d *Decoder) uttKind() engine.Kind {
	if d.utt == nil {
		return 0
	}
	return d.utt.Get().Kind()
}

func (d *Decoder) checkActive(op string) error {
	switch {
	case d.closed:
		return fmt.Errorf("decoder: %s: %w: decoder closed", op, ErrUsage)
	case d.state != Active:
		return fmt.Errorf("decoder: %s: %w: utterance is %s", op, ErrUsage, d.state)
	case d.broken:
		return fmt.Errorf("decoder: %s: %w: utterance failed earlier, restart it", op, ErrUsage)
	}
	return nil
}

// ProcessRaw feeds 16-bit mono samples at the configured sample rate to the
// running utterance and returns the number of frames searched. With
// noSearch the audio is only buffered; it is searched by a later call or by
// EndUtt. fullUtt hints that samples hold the entire utterance.
//
// A failed call leaves the utterance unusable until the next StartUtt.
func (d *Decoder) ProcessRaw(samples []int16, noSearch, fullUtt bool) (int, error) {
	if err := d.checkActive("process"); err != nil {
		return 0, err
	}
	start := time.Now()
	n, err := d.eng.Get().Process(samples, noSearch, fullUtt)
	d.account(d.samplesDuration(len(samples)), time.Since(start))
	if err != nil {
		d.broken = true
		return 0, fmt.Errorf("decoder: process: %w", err)
	}
	return n, nil
}

// ProcessBytes is ProcessRaw for little-endian 16-bit PCM bytes.
func (d *Decoder) ProcessBytes(pcm []byte, noSearch, fullUtt bool) (int, error) {
	samples, err := audio.BytesToInt16(pcm)
	if err != nil {
		return 0, fmt.Errorf("decoder: process: %w", err)
	}
	return d.ProcessRaw(samples, noSearch, fullUtt)
}

func (d *Decoder) samplesDuration(n int) time.Duration {
	rate := d.params.Int("samprate")
	if rate <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(rate)
}

func (d *Decoder) account(speech, wall time.Duration) {
	d.uttPerf.add(speech, wall)
	d.allPerf.add(speech, wall)
}

// EndUtt finalizes the running utterance, searching any buffered audio.
func (d *Decoder) EndUtt() error {
	if err := d.checkActive("end utterance"); err != nil {
		return err
	}
	start := time.Now()
	err := d.eng.Get().End()
	d.account(0, time.Since(start))
	if err != nil {
		d.broken = true
		return fmt.Errorf("decoder: end utterance: %w", err)
	}
	d.state = Ended
	d.lastWords = slices.Clone(d.eng.Get().Segments())

	hyp, ok := d.eng.Get().Hypothesis()
	frames := d.eng.Get().NFrames()
	d.obs.UtteranceEnded(d.uttSearch, d.uttKind(), frames, d.uttPerf, ok)
	d.log.Debug("decoder: utterance ended",
		"search", d.uttSearch,
		"frames", frames,
		"hypothesis", hyp.Text,
		"rtf", d.uttPerf.RealTimeFactor(),
	)
	return nil
}

func (d *Decoder) hasResult() bool {
	return !d.closed && d.state != Idle
}

// Hypothesis returns the best hypothesis so far: partial while the
// utterance is active, final after EndUtt. It reports false when nothing was
// recognised or no utterance has been started.
func (d *Decoder) Hypothesis() (Hypothesis, bool) {
	if !d.hasResult() {
		return Hypothesis{}, false
	}
	return d.eng.Get().Hypothesis()
}

// Prob returns the posterior log probability of the best hypothesis, or 0
// when there is none.
func (d *Decoder) Prob() int32 {
	hyp, _ := d.Hypothesis()
	return hyp.Prob
}

// Segments yields the word segmentation of the best hypothesis.
func (d *Decoder) Segments() iter.Seq[Segment] {
	if !d.hasResult() {
		return func(func(Segment) bool) {}
	}
	return slices.Values(slices.Clone(d.eng.Get().Segments()))
}

// NBest yields up to limit alternative hypotheses, best first. A limit of
// zero or less uses the nbest parameter.
func (d *Decoder) NBest(limit int) iter.Seq[Hypothesis] {
	if !d.hasResult() {
		return func(func(Hypothesis) bool) {}
	}
	if limit <= 0 {
		limit = int(d.params.Int("nbest"))
	}
	return slices.Values(d.eng.Get().NBest(limit))
}

// Alignment returns the time alignment of the current utterance. It reports
// false unless the utterance ran under a forced or state alignment search.
func (d *Decoder) Alignment() (*AlignmentTree, bool) {
	if !d.hasResult() || d.utt == nil || !d.utt.Get().Kind().Aligns() {
		return nil, false
	}
	data, ok := d.eng.Get().Alignment()
	if !ok || data == nil {
		return nil, false
	}
	return newAlignmentTree(data, int(d.params.Int("frate"))), true
}

// NFrames returns the number of frames searched in the current utterance.
func (d *Decoder) NFrames() int {
	if !d.hasResult() {
		return 0
	}
	return d.eng.Get().NFrames()
}

// UttTime returns the cost of the current or last utterance.
func (d *Decoder) UttTime() Performance { return d.uttPerf }

// AllTime returns the cost accumulated since the decoder was created.
func (d *Decoder) AllTime() Performance { return d.allPerf }

// ResetNoiseStatistics discards the noise estimate the engine carries from
// one utterance to the next. Call it when the acoustic environment changes,
// e.g. at the start of a new input stream.
func (d *Decoder) ResetNoiseStatistics() {
	if d.closed {
		return
	}
	d.eng.Get().ResetNoiseStats()
}
