package engine

import "strings"

// StatesPerPhone is the number of HMM emitting states per phone used when
// expanding an alignment.
const StatesPerPhone = 3

// ExpandAlignment builds a three-level alignment from a word segmentation.
// Each word is expanded through pronounce into phones and each phone into
// StatesPerPhone states; the frames of a parent are split as evenly as
// possible among its children, earlier children taking the remainder.
// Words without a pronunciation get a single phone named after the word.
// Filler words in angle brackets become the phone SIL.
//
// Segment ends are inclusive. Scores are divided evenly among children.
func ExpandAlignment(words []Segment, pronounce func(word string) (string, bool)) *AlignmentData {
	a := &AlignmentData{}
	for _, w := range words {
		dur := w.End - w.Start + 1
		if dur < 0 {
			dur = 0
		}
		wi := len(a.Words)
		a.Words = append(a.Words, AlignEntry{
			Name:     w.Word,
			Start:    w.Start,
			Duration: dur,
			Score:    w.Ascr,
			Parent:   -1,
			Child:    len(a.Phones),
		})

		phones := phonesOf(w.Word, pronounce)
		for pi, pd := range split(dur, len(phones)) {
			pstart := w.Start + offset(dur, len(phones), pi)
			pidx := len(a.Phones)
			a.Phones = append(a.Phones, AlignEntry{
				Name:     phones[pi],
				Start:    pstart,
				Duration: pd,
				Score:    w.Ascr / int32(len(phones)),
				Parent:   wi,
				Child:    len(a.States),
			})
			for si, sd := range split(pd, StatesPerPhone) {
				a.States = append(a.States, AlignEntry{
					Name:     stateName(phones[pi], si),
					Start:    pstart + offset(pd, StatesPerPhone, si),
					Duration: sd,
					Score:    w.Ascr / int32(len(phones)*StatesPerPhone),
					Parent:   pidx,
					Child:    -1,
				})
			}
		}
	}
	return a
}

func phonesOf(word string, pronounce func(string) (string, bool)) []string {
	if strings.HasPrefix(word, "<") && strings.HasSuffix(word, ">") {
		return []string{"SIL"}
	}
	if pronounce != nil {
		if p, ok := pronounce(word); ok {
			if f := strings.Fields(p); len(f) > 0 {
				return f
			}
		}
	}
	return []string{strings.ToUpper(word)}
}

func stateName(phone string, i int) string {
	return phone + "." + string(rune('0'+i))
}

// split divides total into n parts differing by at most one.
func split(total, n int) []int {
	parts := make([]int, n)
	base, rem := total/n, total%n
	for i := range parts {
		parts[i] = base
		if i < rem {
			parts[i]++
		}
	}
	return parts
}

// offset returns the start of part i of split(total, n) relative to the
// parent start.
func offset(total, n, i int) int {
	base, rem := total/n, total%n
	return i*base + min(i, rem)
}
