package statistical

// Aggregate feature computations over a flow record's samples. Inter-packet
// intervals are always taken between consecutive arrivals within the same
// direction; the first sample in a direction has no predecessor and
// contributes no interval.

// maxPacketSize returns the largest IP total length across all samples.
func (t *Table) maxPacketSize(ref Ref) int {
	rec, ok := t.records[ref]
	if !ok {
		return 0
	}
	maxSize := 0
	for i := range rec.samples {
		if rec.samples[i].TotalLength > maxSize {
			maxSize = rec.samples[i].TotalLength
		}
	}
	return maxSize
}

// interpacketIntervals yields the same-direction gaps in seconds, in sample
// order, mixed across both directions.
func (rec *flowRecord) interpacketIntervals() []float64 {
	var intervals []float64
	havePrev := [2]bool{}
	prev := [2]int{}
	for i := range rec.samples {
		d := rec.samples[i].Direction
		if havePrev[d] {
			gap := rec.samples[i].ArrivalTime.Sub(rec.samples[prev[d]].ArrivalTime).Seconds()
			intervals = append(intervals, gap)
		}
		prev[d] = i
		havePrev[d] = true
	}
	return intervals
}

// maxInterpacketInterval returns the largest same-direction gap in seconds,
// or 0 when no direction has two samples.
func (t *Table) maxInterpacketInterval(ref Ref) float64 {
	rec, ok := t.records[ref]
	if !ok {
		return 0
	}
	maxGap := 0.0
	for _, gap := range rec.interpacketIntervals() {
		if gap > maxGap {
			maxGap = gap
		}
	}
	return maxGap
}

// minInterpacketInterval returns the smallest same-direction gap in
// seconds, or 0 when no direction has two samples.
func (t *Table) minInterpacketInterval(ref Ref) float64 {
	rec, ok := t.records[ref]
	if !ok {
		return 0
	}
	minGap := 0.0
	first := true
	for _, gap := range rec.interpacketIntervals() {
		if first || gap < minGap {
			minGap = gap
			first = false
		}
	}
	return minGap
}

// maxWindowGrowth returns the larger of the forward and reverse ratios
// between the first and the largest scaled window size seen in that
// direction. Flows without an observed SYN carry unscaled windows, so the
// ratio is only indicative there.
func (t *Table) maxWindowGrowth(ref Ref) float64 {
	rec, ok := t.records[ref]
	if !ok {
		return 0
	}
	var first, maxWin [2]uint32
	for i := range rec.samples {
		s := &rec.samples[i]
		d := s.Direction
		if first[d] == 0 {
			first[d] = s.WindowSize
		}
		if s.WindowSize > maxWin[d] {
			maxWin[d] = s.WindowSize
		}
	}
	var forwardRatio, reverseRatio float64
	if first[DirectionForward] != 0 {
		forwardRatio = float64(maxWin[DirectionForward]) / float64(first[DirectionForward])
	}
	if first[DirectionReverse] != 0 {
		reverseRatio = float64(maxWin[DirectionReverse]) / float64(first[DirectionReverse])
	}
	if reverseRatio > forwardRatio {
		return reverseRatio
	}
	return forwardRatio
}

// directionalSize holds a per-direction packet size feature with the
// combined value taken as the larger of the two.
type directionalSize struct {
	forward int
	reverse int
	both    int
}

// directionalInterval holds a per-direction interval feature. A direction
// with fewer than two samples has no feature and stays nil; the combined
// value folds across the directions that are present.
type directionalInterval struct {
	forward *float64
	reverse *float64
	both    *float64
}

// maxPacketSizeByDirection computes the largest IP total length separately
// for each direction; both is the max of the two.
func (t *Table) maxPacketSizeByDirection(ref Ref) directionalSize {
	var sizes directionalSize
	rec, ok := t.records[ref]
	if !ok {
		return sizes
	}
	for i := range rec.samples {
		s := &rec.samples[i]
		switch s.Direction {
		case DirectionForward:
			if s.TotalLength > sizes.forward {
				sizes.forward = s.TotalLength
			}
		case DirectionReverse:
			if s.TotalLength > sizes.reverse {
				sizes.reverse = s.TotalLength
			}
		}
	}
	sizes.both = sizes.forward
	if sizes.reverse > sizes.both {
		sizes.both = sizes.reverse
	}
	return sizes
}

// intervalByDirection computes the per-direction inter-packet gaps and
// folds them with pick (largest or smallest).
func (t *Table) intervalByDirection(ref Ref, pick func(a, b float64) float64) directionalInterval {
	var result directionalInterval
	rec, ok := t.records[ref]
	if !ok {
		return result
	}
	havePrev := [2]bool{}
	prev := [2]int{}
	acc := [2]*float64{}
	for i := range rec.samples {
		d := rec.samples[i].Direction
		if havePrev[d] {
			gap := rec.samples[i].ArrivalTime.Sub(rec.samples[prev[d]].ArrivalTime).Seconds()
			if acc[d] == nil {
				v := gap
				acc[d] = &v
			} else {
				v := pick(*acc[d], gap)
				acc[d] = &v
			}
		}
		prev[d] = i
		havePrev[d] = true
	}
	result.forward = acc[DirectionForward]
	result.reverse = acc[DirectionReverse]
	switch {
	case result.forward != nil && result.reverse != nil:
		v := pick(*result.forward, *result.reverse)
		result.both = &v
	case result.forward != nil:
		v := *result.forward
		result.both = &v
	case result.reverse != nil:
		v := *result.reverse
		result.both = &v
	}
	return result
}

// maxInterpacketByDirection returns the largest same-direction gap per
// direction.
func (t *Table) maxInterpacketByDirection(ref Ref) directionalInterval {
	return t.intervalByDirection(ref, func(a, b float64) float64 {
		if a > b {
			return a
		}
		return b
	})
}

// minInterpacketByDirection returns the smallest same-direction gap per
// direction.
func (t *Table) minInterpacketByDirection(ref Ref) directionalInterval {
	return t.intervalByDirection(ref, func(a, b float64) float64 {
		if a < b {
			return a
		}
		return b
	})
}
