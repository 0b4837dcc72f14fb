package encoders

import (
	"bufio"
	"context"
	"encoding/gob"
	"math"
	"os"
	"regexp"
	"strings"
	"sync"
)

const (
	bm25K1 = 1.5
	bm25B  = 0.75
)

var tokenPattern = regexp.MustCompile(`[a-z0-9]+`)

func tokenize(text string) []string {
	return tokenPattern.FindAllString(strings.ToLower(text), -1)
}

// bm25Model is the serializable fitted state: vocabulary, document
// frequency per term, and average document length.
type bm25Model struct {
	Vocab map[string]uint32
	DocFreq map[string]int
	NumDocs int
	AvgDocLen float64
}

// VectorizerBM25 is a classic Okapi BM25 scorer fit over a corpus. Encode on
// an unfit model returns an empty Sparse, matching the spec's "unfit is a
// legal startup condition" invariant.
type VectorizerBM25 struct {
	mu    sync.RWMutex
	model *bm25Model
}

// NewBM25 returns an unfit BM25 encoder.
func NewBM25() *VectorizerBM25 {
	return &VectorizerBM25{}
}

// Fit establishes the vocabulary and document-frequency statistics over
// corpus. Calling Fit again atomically replaces the previous model so that
// readers never observe a torn state mid-swap.
func (v *VectorizerBM25) Fit(_ context.Context, corpus []string) error {
	vocab := map[string]uint32{}
	docFreq := map[string]int{}
	var totalLen int

	for _, doc := range corpus {
		terms := tokenize(doc)
		totalLen += len(terms)
		seen := map[string]bool{}
		for _, t := range terms {
			if _, ok := vocab[t]; !ok {
				vocab[t] = uint32(len(vocab))
			}
			if !seen[t] {
				docFreq[t]++
				seen[t] = true
			}
		}
	}

	avgLen := 0.0
	if len(corpus) > 0 {
		avgLen = float64(totalLen) / float64(len(corpus))
	}

	model := &bm25Model{
		Vocab:     vocab,
		DocFreq:   docFreq,
		NumDocs:   len(corpus),
		AvgDocLen: avgLen,
	}

	v.mu.Lock()
	v.model = model
	v.mu.Unlock()
	return nil
}

// Fitted reports whether Fit has been called successfully.
func (v *VectorizerBM25) Fitted() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.model != nil
}

// Encode computes BM25 term weights for text against the fitted model.
// Returns an empty Sparse when unfit.
func (v *VectorizerBM25) Encode(text string) Sparse {
	v.mu.RLock()
	model := v.model
	v.mu.RUnlock()
	if model == nil {
		return Sparse{}
	}

	terms := tokenize(text)
	if len(terms) == 0 {
		return Sparse{}
	}
	tf := map[string]int{}
	for _, t := range terms {
		tf[t]++
	}

	docLen := float64(len(terms))
	var indices []uint32
	var values []float32
	for term, freq := range tf {
		idx, ok := model.Vocab[term]
		if !ok {
			continue
		}
		df := model.DocFreq[term]
		idf := math.Log(1 + (float64(model.NumDocs)-float64(df)+0.5)/(float64(df)+0.5))
		num := float64(freq) * (bm25K1 + 1)
		den := float64(freq) + bm25K1*(1-bm25B+bm25B*docLen/maxf(model.AvgDocLen, 1))
		score := idf * num / den
		if score <= 0 {
			continue
		}
		indices = append(indices, idx)
		values = append(values, float32(score))
	}
	return Sparse{Indices: indices, Values: values}
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

// Save atomically persists the fitted model via open-new/rename so readers
// never observe a torn file during a concurrent retrain.
func (v *VectorizerBM25) Save(path string) error {
	v.mu.RLock()
	model := v.model
	v.mu.RUnlock()
	if model == nil {
		return nil
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	if err := gob.NewEncoder(w).Encode(model); err != nil {
		f.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Load reads a previously saved model from disk, replacing any in-memory
// state.
func (v *VectorizerBM25) Load(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var model bm25Model
	if err := gob.NewDecoder(bufio.NewReader(f)).Decode(&model); err != nil {
		return err
	}

	v.mu.Lock()
	v.model = &model
	v.mu.Unlock()
	return nil
}
