// Package analysis relates daily portfolio returns to daily message counts:
// linear and rank correlation with significance, event-window averages
// around extreme-return days, and return spikes.
package analysis

import (
	"errors"
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/KaramelBytes/moodfolio/internal/dataset"
)

// ErrInsufficientData is returned when a statistic is undefined for the
// input: fewer than three pairs or a constant series.
var ErrInsufficientData = errors.New("insufficient data")

// Point is a row that survived cleaning. Pos is its row position in the
// uncleaned table, so neighbours can be looked up by position.
type Point struct {
	Pos    int
	Date   time.Time
	Return float64
	Count  float64
}

// Clean drops rows whose return is undefined.
func Clean(rows []dataset.Row) []Point {
	out := make([]Point, 0, len(rows))
	for i, r := range rows {
		if !r.DailyReturn.OK {
			continue
		}
		out = append(out, Point{Pos: i, Date: r.Date, Return: r.DailyReturn.V, Count: float64(r.MessageCount)})
	}
	return out
}

// Columns splits points into return and count slices.
func Columns(pts []Point) (returns, counts []float64) {
	returns = make([]float64, len(pts))
	counts = make([]float64, len(pts))
	for i, p := range pts {
		returns[i], counts[i] = p.Return, p.Count
	}
	return returns, counts
}

// Correlation is a coefficient with its two-sided p-value.
type Correlation struct {
	Coef   float64
	PValue float64
	N      int
}

// Pearson returns the linear correlation of x and y.
func Pearson(x, y []float64) (Correlation, error) {
	n := len(x)
	if n != len(y) || n < 3 || constant(x) || constant(y) {
		return Correlation{N: n}, ErrInsufficientData
	}
	r := stat.Correlation(x, y, nil)
	r = math.Max(-1, math.Min(1, r))
	return Correlation{Coef: r, PValue: pValue(r, n), N: n}, nil
}

// Spearman returns the rank correlation of x and y. Ties get average ranks.
func Spearman(x, y []float64) (Correlation, error) {
	if len(x) != len(y) {
		return Correlation{N: len(x)}, ErrInsufficientData
	}
	return Pearson(Ranks(x), Ranks(y))
}

// pValue is the two-sided significance of r under Student's t with n-2
// degrees of freedom.
func pValue(r float64, n int) float64 {
	if math.Abs(r) >= 1 {
		return 0
	}
	df := float64(n - 2)
	t := r * math.Sqrt(df/(1-r*r))
	st := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}
	return math.Min(1, 2*st.Survival(math.Abs(t)))
}

// Ranks assigns 1-based ranks, averaging ranks across ties.
func Ranks(x []float64) []float64 {
	idx := make([]int, len(x))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return x[idx[a]] < x[idx[b]] })
	ranks := make([]float64, len(x))
	for i := 0; i < len(idx); {
		j := i
		for j+1 < len(idx) && x[idx[j+1]] == x[idx[i]] {
			j++
		}
		avg := float64(i+j)/2 + 1
		for k := i; k <= j; k++ {
			ranks[idx[k]] = avg
		}
		i = j + 1
	}
	return ranks
}

func constant(x []float64) bool {
	for _, v := range x[1:] {
		if v != x[0] {
			return false
		}
	}
	return true
}
