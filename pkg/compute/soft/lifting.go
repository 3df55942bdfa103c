package soft

import (
	"math"

	"golang.org/x/sync/errgroup"
)

// One level lifting transforms of a contiguous w x h plane. After analysis
// the plane holds the Mallat layout:
//   - LL (top-left): ceil(w/2) x ceil(h/2)
//   - HL (top-right), LH (bottom-left), HH (bottom-right)
// Synthesis inverts that layout in place.

// analyze53 is the reversible 5/3 predict/update pair with symmetric
// extension. The signal is replaced by low-pass then high-pass samples.
func analyze53(signal, low, high []int) {
	n := len(signal)
	if n < 2 {
		return
	}
	half := (n + 1) / 2
	low, high = low[:half], high[:n-half]
	for i := range low {
		low[i] = signal[2*i]
	}
	for i := range high {
		high[i] = signal[2*i+1]
	}
	// predict: d[i] -= floor((s[i] + s[i+1]) / 2)
	for i := range high {
		right := low[i]
		if i+1 < half {
			right = low[i+1]
		}
		high[i] -= floorDiv(low[i]+right, 2)
	}
	// update: s[i] += floor((d[i-1] + d[i] + 2) / 4)
	for i := range low {
		left := high[0]
		if i > 0 {
			left = high[i-1]
		}
		right := left
		if i < len(high) {
			right = high[i]
		}
		low[i] += floorDiv(left+right+2, 4)
	}
	copy(signal[:half], low)
	copy(signal[half:], high)
}

// synthesize53 inverts analyze53.
func synthesize53(signal, low, high []int) {
	n := len(signal)
	if n < 2 {
		return
	}
	half := (n + 1) / 2
	low, high = low[:half], high[:n-half]
	copy(low, signal[:half])
	copy(high, signal[half:])
	for i := range low {
		left := high[0]
		if i > 0 {
			left = high[i-1]
		}
		right := left
		if i < len(high) {
			right = high[i]
		}
		low[i] -= floorDiv(left+right+2, 4)
	}
	for i := range high {
		right := low[i]
		if i+1 < half {
			right = low[i+1]
		}
		high[i] += floorDiv(low[i]+right, 2)
	}
	for i := range low {
		signal[2*i] = low[i]
	}
	for i := range high {
		signal[2*i+1] = high[i]
	}
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// CDF 9/7 lifting coefficients.
const (
	alpha97 = -1.586134342059924
	beta97  = -0.052980118572961
	gamma97 = 0.882911075530934
	delta97 = 0.443506852043971
	k97     = 1.230174104914001
)

// mirror reflects an index into [0, n) without repeating the edge sample.
func mirror(i, n int) int {
	for i < 0 || i >= n {
		if i < 0 {
			i = -i
		}
		if i >= n {
			i = 2*(n-1) - i
		}
	}
	return i
}

func lift97(x []float64, parity int, c float64) {
	n := len(x)
	for i := parity; i < n; i += 2 {
		x[i] += c * (x[mirror(i-1, n)] + x[mirror(i+1, n)])
	}
}

// analyze97 is the irreversible 9/7 transform, low-pass first.
func analyze97(x, tmp []float64) {
	n := len(x)
	if n < 2 {
		return
	}
	lift97(x, 1, alpha97)
	lift97(x, 0, beta97)
	lift97(x, 1, gamma97)
	lift97(x, 0, delta97)
	half := (n + 1) / 2
	tmp = tmp[:n]
	for i := 0; i < n; i++ {
		if i%2 == 0 {
			tmp[i/2] = x[i] / k97
		} else {
			tmp[half+i/2] = x[i] * k97
		}
	}
	copy(x, tmp)
}

// synthesize97 inverts analyze97.
func synthesize97(x, tmp []float64) {
	n := len(x)
	if n < 2 {
		return
	}
	half := (n + 1) / 2
	tmp = tmp[:n]
	for i := 0; i < n; i++ {
		if i%2 == 0 {
			tmp[i] = x[i/2] * k97
		} else {
			tmp[i] = x[half+i/2] / k97
		}
	}
	copy(x, tmp)
	lift97(x, 0, -delta97)
	lift97(x, 1, -gamma97)
	lift97(x, 0, -beta97)
	lift97(x, 1, -alpha97)
}

// lineFunc transforms one line in place using scratch of at least len(line).
type lineFunc func(line []float64, scratch *lineScratch)

type lineScratch struct {
	f       []float64
	a, b, c []int
}

func newScratch(n int) *lineScratch {
	return &lineScratch{f: make([]float64, n), a: make([]int, n), b: make([]int, n), c: make([]int, n)}
}

func line53(inverse bool) lineFunc {
	return func(line []float64, s *lineScratch) {
		n := len(line)
		ints := s.a[:n]
		for i, v := range line {
			ints[i] = int(math.Round(v))
		}
		half := (n + 1) / 2
		low, high := s.b[:half], s.c[:n-half]
		if inverse {
			synthesize53(ints, low, high)
		} else {
			analyze53(ints, low, high)
		}
		for i, v := range ints {
			line[i] = float64(v)
		}
	}
}

func line97(inverse bool) lineFunc {
	return func(line []float64, s *lineScratch) {
		if inverse {
			synthesize97(line, s.f)
		} else {
			analyze97(line, s.f)
		}
	}
}

// transform2D runs one decomposition (or reconstruction) level over a w x h
// plane. Analysis filters rows then columns; synthesis undoes columns first.
func transform2D(p []float64, w, h, workers int, fn lineFunc, inverse bool) error {
	rows := func() error { return forLines(h, w, workers, fn, func(i int) (int, int) { return i * w, 1 }, p) }
	cols := func() error { return forLines(w, h, workers, fn, func(i int) (int, int) { return i, w }, p) }
	if inverse {
		if err := cols(); err != nil {
			return err
		}
		return rows()
	}
	if err := rows(); err != nil {
		return err
	}
	return cols()
}

// forLines applies fn to count lines of length n, fanning out across workers.
func forLines(count, n, workers int, fn lineFunc, origin func(int) (start, step int), p []float64) error {
	if n < 2 {
		return nil
	}
	if workers < 1 {
		workers = 1
	}
	var g errgroup.Group
	chunk := (count + workers - 1) / workers
	for lo := 0; lo < count; lo += chunk {
		lo := lo
		hi := min(lo+chunk, count)
		g.Go(func() error {
			s := newScratch(n)
			line := make([]float64, n)
			for i := lo; i < hi; i++ {
				start, step := origin(i)
				for k := 0; k < n; k++ {
					line[k] = p[start+k*step]
				}
				fn(line, s)
				for k := 0; k < n; k++ {
					p[start+k*step] = line[k]
				}
			}
			return nil
		})
	}
	return g.Wait()
}
