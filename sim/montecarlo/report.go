package montecarlo

import (
	"fmt"
	"slices"

	"gonum.org/v1/gonum/stat"

	"github.com/tokenlab/tokensim/sim"
)

type segmentKind int

const (
	segmentAll segmentKind = iota
	segmentWindow
	segmentSingle
	segmentLast
)

// Segment restricts which rows a report summarises.
type Segment struct {
	kind   segmentKind
	lo, hi int
	rep    int
}

// AllRows selects every row of every repetition.
func AllRows() Segment { return Segment{kind: segmentAll} }

// Window selects rows with lo < iteration_time < hi.
func Window(lo, hi int) Segment { return Segment{kind: segmentWindow, lo: lo, hi: hi} }

// SingleRepetition selects the rows of repetition r.
func SingleRepetition(r int) Segment { return Segment{kind: segmentSingle, rep: r} }

// LastRepetition selects the rows of the final repetition.
func LastRepetition() Segment { return Segment{kind: segmentLast} }

func (s Segment) String() string {
	switch s.kind {
	case segmentWindow:
		return fmt.Sprintf("window(%d,%d)", s.lo, s.hi)
	case segmentSingle:
		return fmt.Sprintf("repetition %d", s.rep)
	case segmentLast:
		return "last"
	}
	return "all"
}

// Report holds one value per (feature, statistic). Values[i][j] is statistic
// j applied to the per-repetition means of feature i.
type Report struct {
	Features   []string
	Statistics []string
	Values     [][]float64
}

// Value looks up one cell.
func (r *Report) Value(feature, statistic string) (float64, error) {
	i := slices.Index(r.Features, feature)
	j := slices.Index(r.Statistics, statistic)
	if i < 0 || j < 0 {
		return 0, fmt.Errorf("no report value for %s/%s", feature, statistic)
	}
	return r.Values[i][j], nil
}

// Report averages every feature within each repetition, then applies each
// statistic across repetitions. A nil stats slice means DefaultStatistics.
func (m *MetaSimulator) Report(stats []Statistic, seg Segment) (*Report, error) {
	if m.data == nil {
		return nil, ErrNoData
	}
	if stats == nil {
		stats = DefaultStatistics()
	}
	repIdx := m.data.Index(ColRepetition)
	timeIdx := m.data.Index(ColIterationTime)
	if repIdx < 0 || timeIdx < 0 {
		return nil, fmt.Errorf("table lacks %s/%s columns", ColRepetition, ColIterationTime)
	}

	last := float64(m.repetitions - 1)
	rows := m.data.Filter(func(row []float64) bool {
		switch seg.kind {
		case segmentWindow:
			t := row[timeIdx]
			return t > float64(seg.lo) && t < float64(seg.hi)
		case segmentSingle:
			return row[repIdx] == float64(seg.rep)
		case segmentLast:
			return row[repIdx] == last
		}
		return true
	})
	if rows.Len() == 0 {
		return nil, fmt.Errorf("segment %s selects no rows", seg)
	}

	means := groupMeans(rows, repIdx)
	out := &Report{}
	for _, s := range stats {
		out.Statistics = append(out.Statistics, s.Name)
	}
	for c, name := range rows.Columns {
		if c == repIdx {
			continue
		}
		values := make([]float64, len(means))
		for g, mean := range means {
			values[g] = mean[c]
		}
		cells := make([]float64, len(stats))
		for j, s := range stats {
			cells[j] = s.Fn(values)
		}
		out.Features = append(out.Features, name)
		out.Values = append(out.Values, cells)
	}
	return out, nil
}

// groupMeans returns the column means of each run of rows sharing the value
// at keyIdx, in order of first appearance.
func groupMeans(t *sim.Table, keyIdx int) [][]float64 {
	var order []float64
	sums := make(map[float64][]float64)
	counts := make(map[float64]float64)
	for _, row := range t.Rows {
		k := row[keyIdx]
		acc, ok := sums[k]
		if !ok {
			acc = make([]float64, len(row))
			order = append(order, k)
		}
		for i, v := range row {
			acc[i] += v
		}
		sums[k] = acc
		counts[k]++
	}
	out := make([][]float64, len(order))
	for g, k := range order {
		mean := sums[k]
		for i := range mean {
			mean[i] /= counts[k]
		}
		out[g] = mean
	}
	return out
}

// Timeseries aggregates feature across repetitions for each iteration_time.
// Every statistic is scaled by multiple. The last column counts time steps
// and is named after the simulation's unit of time.
func (m *MetaSimulator) Timeseries(feature string, multiple float64) (*sim.Table, error) {
	if m.data == nil {
		return nil, ErrNoData
	}
	values, err := m.data.Column(feature)
	if err != nil {
		return nil, err
	}
	times, err := m.data.Column(ColIterationTime)
	if err != nil {
		return nil, err
	}
	var byTime [][]float64
	for i, t := range times {
		step := int(t)
		for len(byTime) <= step {
			byTime = append(byTime, nil)
		}
		byTime[step] = append(byTime[step], values[i])
	}

	out := sim.NewTable(feature+"_mean", feature+"_median", "sd", "quant_10%", "quant_90%", m.UnitOfTime())
	for step, xs := range byTime {
		sorted := slices.Clone(xs)
		slices.Sort(sorted)
		err := out.Append(
			stat.Mean(xs, nil)*multiple,
			percentile(sorted, 50)*multiple,
			stat.StdDev(xs, nil)*multiple,
			percentile(sorted, 10)*multiple,
			percentile(sorted, 90)*multiple,
			float64(step),
		)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}
