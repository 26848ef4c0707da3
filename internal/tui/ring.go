package tui

// Ring keeps the most recent values up to a fixed capacity.
type Ring struct {
	buf   []float64
	start int
	n     int
}

func NewRing(capacity int) *Ring {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring{buf: make([]float64, capacity)}
}

func (r *Ring) Len() int { return r.n }
func (r *Ring) Cap() int { return len(r.buf) }

// Push appends v, evicting the oldest value when full.
func (r *Ring) Push(v float64) {
	if r.n < len(r.buf) {
		r.buf[(r.start+r.n)%len(r.buf)] = v
		r.n++
		return
	}
	r.buf[r.start] = v
	r.start = (r.start + 1) % len(r.buf)
}

// Values returns the contents oldest first.
func (r *Ring) Values() []float64 {
	out := make([]float64, r.n)
	for i := range out {
		out[i] = r.buf[(r.start+i)%len(r.buf)]
	}
	return out
}

// Last returns the newest value.
func (r *Ring) Last() (float64, bool) {
	if r.n == 0 {
		return 0, false
	}
	return r.buf[(r.start+r.n-1)%len(r.buf)], true
}

// Resize changes the capacity, keeping the newest values that fit.
func (r *Ring) Resize(capacity int) {
	if capacity < 1 {
		capacity = 1
	}
	vals := r.Values()
	if len(vals) > capacity {
		vals = vals[len(vals)-capacity:]
	}
	r.buf = make([]float64, capacity)
	copy(r.buf, vals)
	r.start = 0
	r.n = len(vals)
}

func (r *Ring) Clear() {
	r.start = 0
	r.n = 0
}
