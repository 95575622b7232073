package domain

type Status string

const (
	StatusGood    Status = "good"
	StatusFair    Status = "fair"
	StatusPoor    Status = "poor"
	StatusUnknown Status = "unknown"
)

const (
	goodAbove = 90.0
	fairFrom  = 75.0
)

// Tally counts pings and 2xx responses inside a status window.
type Tally struct {
	Pings     int `json:"pings"`
	Successes int `json:"successes"`
}

func (t Tally) Add(o Tally) Tally {
	return Tally{Pings: t.Pings + o.Pings, Successes: t.Successes + o.Successes}
}

type Summary struct {
	Pings       int      `json:"pings"`
	Successes   int      `json:"successes"`
	SuccessRate *float64 `json:"success_rate"`
	Status      Status   `json:"status"`
}

func (t Tally) Summary() Summary {
	s := Summary{Pings: t.Pings, Successes: t.Successes, Status: StatusUnknown}
	if t.Pings <= 0 {
		return s
	}
	rate := float64(t.Successes) * 100.0 / float64(t.Pings)
	s.SuccessRate = &rate
	s.Status = Classify(rate)
	return s
}

// Classify maps a success rate in percent to a status band. The good band
// starts strictly above 90; fair includes both 75 and 90.
func Classify(rate float64) Status {
	switch {
	case rate > goodAbove:
		return StatusGood
	case rate >= fairFrom:
		return StatusFair
	default:
		return StatusPoor
	}
}
