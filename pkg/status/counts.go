package status

// Counts holds per-state job counts for an experiment.
type Counts struct {
	Running int `json:"running"`
	Queued  int `json:"queued"`
	Pass    int `json:"pass"`
	Fail    int `json:"fail"`
	Killed  int `json:"killed"`
}

// FromCompound folds a ParseCompound result into Counts. Prep jobs count as
// queued and failed jobs count as fail.
func FromCompound(m map[string]int) Counts {
	return Counts{
		Running: m[Running],
		Queued:  m[Queued] + m[Prep],
		Pass:    m[Pass],
		Fail:    m[Fail] + m[Failed],
		Killed:  m[Killed],
	}
}

// FromStatuses tallies raw job statuses after normalization. Statuses that do
// not map to a counted state are ignored.
func FromStatuses(statuses []string) Counts {
	var c Counts
	for _, s := range statuses {
		c.Add(s)
	}
	return c
}

// Add increments the counter for raw status s.
func (c *Counts) Add(s string) {
	switch Normalize(s) {
	case Running:
		c.Running++
	case Queued:
		c.Queued++
	case Pass:
		c.Pass++
	case Fail:
		c.Fail++
	case Killed, Cancelled:
		c.Killed++
	}
}

// Total is the sum of all counters.
func (c Counts) Total() int {
	return c.Running + c.Queued + c.Pass + c.Fail + c.Killed
}

// IsZero reports whether every counter is zero.
func (c Counts) IsZero() bool {
	return c.Total() == 0
}

// Active reports whether any job is running or queued.
func (c Counts) Active() bool {
	return c.Running > 0 || c.Queued > 0
}

// Primary derives a single status from job evidence using the order
// running > queued > fail > killed > pass. All-zero counts yield Unknown.
func (c Counts) Primary() string {
	switch {
	case c.Running > 0:
		return Running
	case c.Queued > 0:
		return Queued
	case c.Fail > 0:
		return Fail
	case c.Killed > 0:
		return Killed
	case c.Pass > 0:
		return Pass
	}
	return Unknown
}
