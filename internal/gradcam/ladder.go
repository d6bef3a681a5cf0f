package gradcam

import (
	"errors"
	"fmt"

	"github.com/anime-shed/mri-gradcam-go/internal/logger"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
)

// Attempt records one strategy that ran and failed
type Attempt struct {
	Strategy string `json:"strategy"`
	Error    string `json:"error"`
}

// Result is the raw heatmap a ladder settled on
type Result struct {
	Raw      *mat.Dense
	Source   string
	Attempts []Attempt
}

// Ladder tries strategies in priority order and always ends at a
// Terminal, so Run never fails
type Ladder struct {
	strategies []Strategy
	terminal   Terminal
}

// NewLadder requires a terminal rung
func NewLadder(terminal Terminal, strategies ...Strategy) (*Ladder, error) {
	if terminal == nil {
		return nil, fmt.Errorf("ladder needs a terminal strategy")
	}
	for i, s := range strategies {
		if s == nil {
			return nil, fmt.Errorf("strategy %d is nil", i)
		}
	}
	return &Ladder{strategies: strategies, terminal: terminal}, nil
}

func mustLadder(terminal Terminal, strategies ...Strategy) *Ladder {
	l, err := NewLadder(terminal, strategies...)
	if err != nil {
		panic(err)
	}
	return l
}

// BinaryLadder is used for inline explanations: gradient first, then
// random, edge and Canny stand-ins keyed on why the gradient failed
func BinaryLadder() *Ladder {
	return mustLadder(RandomGrid{},
		GradCAM{},
		RandomGrid{},
		EdgeSaliency{},
		LayerGrid{},
		CannyEdges{},
	)
}

// SubclassLadder falls back to the anatomical synthetic heatmap
func SubclassLadder() *Ladder {
	return mustLadder(RandomGrid{},
		GradCAM{},
		Anatomical{},
	)
}

// Names lists the rungs in order, terminal last
func (l *Ladder) Names() []string {
	names := make([]string, 0, len(l.strategies)+1)
	for _, s := range l.strategies {
		names = append(names, s.Name())
	}
	return append(names, l.terminal.Name())
}

// Run returns the first heatmap a strategy produces
func (l *Ladder) Run(req *Request) Result {
	var cause error
	var attempts []Attempt
	for _, s := range l.strategies {
		raw, err := safeGenerate(s, req, cause)
		if err == nil {
			return Result{Raw: raw, Source: s.Name(), Attempts: attempts}
		}
		if errors.Is(err, ErrNotApplicable) {
			continue
		}
		logger.WithError(err).WithFields(logrus.Fields{
			"strategy": s.Name(),
			"layer":    req.Layer,
		}).Warn("Heatmap strategy failed, escalating")
		attempts = append(attempts, Attempt{Strategy: s.Name(), Error: err.Error()})
		cause = err
	}
	return Result{Raw: l.terminal.Fallback(req), Source: l.terminal.Name(), Attempts: attempts}
}

func safeGenerate(s Strategy, req *Request, cause error) (raw *mat.Dense, err error) {
	defer func() {
		if r := recover(); r != nil {
			raw, err = nil, fmt.Errorf("%s panicked: %v", s.Name(), r)
		}
	}()
	raw, err = s.Generate(req, cause)
	if err != nil {
		return nil, err
	}
	if raw == nil || raw.IsEmpty() {
		return nil, fmt.Errorf("%s returned an empty heatmap", s.Name())
	}
	return raw, nil
}
