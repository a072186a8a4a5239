package scan

import "strings"

// ModeChecker reports whether one address advertises a given mode. It
// consumes validated events.
type ModeChecker struct {
	address   string
	target    Mode
	waitUntil bool
	seen      bool
	result    bool
}

// NewModeChecker creates a checker for address. With waitUntilInMode the
// scan continues past records in another mode until a matching one arrives.
func NewModeChecker(address string, target Mode, waitUntilInMode bool) *ModeChecker {
	return &ModeChecker{address: strings.ToLower(address), target: target, waitUntil: waitUntilInMode}
}

// Consume implements Consumer.
func (m *ModeChecker) Consume(ev Event) bool {
	if ev.Type != EventValidated || ev.Record.Address != m.address {
		return false
	}
	m.seen = true
	m.result = ev.Record.Mode == m.target
	return m.result || !m.waitUntil
}

// Result returns whether the address was in the target mode, and whether
// it was seen at all.
func (m *ModeChecker) Result() (inMode, seen bool) { return m.result, m.seen }

// RSSIAverager averages the RSSI of one address over the scan window.
type RSSIAverager struct {
	address string
	sum     int
	count   int
}

func NewRSSIAverager(address string) *RSSIAverager {
	return &RSSIAverager{address: strings.ToLower(address)}
}

// Consume implements Consumer.
func (a *RSSIAverager) Consume(ev Event) bool {
	if ev.Type == EventValidated && ev.Record.Address == a.address {
		a.sum += ev.Record.RSSI
		a.count++
	}
	return false
}

// Average returns the mean RSSI, or ok=false without samples.
func (a *RSSIAverager) Average() (avg float64, ok bool) {
	if a.count == 0 {
		return 0, false
	}
	return float64(a.sum) / float64(a.count), true
}

// DefaultRSSIAtLeast is the signal floor used when NearestOptions leaves
// RSSIAtLeast unset.
const DefaultRSSIAtLeast = -100

// NearestOptions filters the candidates of a NearestSelector.
type NearestOptions struct {
	// RSSIAtLeast rejects records with a weaker signal. Zero means
	// DefaultRSSIAtLeast.
	RSSIAtLeast int
	// SetupOnly accepts only setup-mode stones; otherwise setup-mode stones
	// are excluded.
	SetupOnly bool
	// ReturnFirstAcceptable ends the scan at the first accepted record.
	ReturnFirstAcceptable bool
	// Exclude lists addresses to ignore.
	Exclude []string
	// IncludeUnvalidated considers every decoded advertisement instead of
	// only those of verified stones.
	IncludeUnvalidated bool
}

// NearestSelector picks the stone with the strongest signal.
type NearestSelector struct {
	opts       NearestOptions
	exclude    map[string]struct{}
	candidates []Event
}

func NewNearestSelector(opts NearestOptions) *NearestSelector {
	if opts.RSSIAtLeast == 0 {
		opts.RSSIAtLeast = DefaultRSSIAtLeast
	}
	exclude := make(map[string]struct{}, len(opts.Exclude))
	for _, addr := range opts.Exclude {
		exclude[strings.ToLower(addr)] = struct{}{}
	}
	return &NearestSelector{opts: opts, exclude: exclude}
}

// Consume implements Consumer.
func (n *NearestSelector) Consume(ev Event) bool {
	want := EventValidated
	if n.opts.IncludeUnvalidated {
		want = EventRaw
	}
	if ev.Type != want {
		return false
	}
	r := ev.Record
	if _, ok := n.exclude[r.Address]; ok {
		return false
	}
	if (r.Mode == ModeSetup) != n.opts.SetupOnly {
		return false
	}
	if r.RSSI < n.opts.RSSIAtLeast {
		return false
	}
	n.candidates = append(n.candidates, ev)
	return n.opts.ReturnFirstAcceptable
}

// Nearest returns the accepted record with the highest negative RSSI.
// Zero and positive readings are driver noise and never win.
func (n *NearestSelector) Nearest() (Summary, bool) {
	var best *Event
	for i := range n.candidates {
		c := &n.candidates[i]
		if c.Record.RSSI >= 0 {
			continue
		}
		if best == nil || c.Record.RSSI > best.Record.RSSI {
			best = c
		}
	}
	if best == nil {
		return Summary{}, false
	}
	return best.Record.Summarize(best.Validated), true
}

// Gatherer collects the latest record of every address seen.
type Gatherer struct {
	devices map[string]Summary
	order   []string
}

func NewGatherer() *Gatherer {
	return &Gatherer{devices: make(map[string]Summary)}
}

// Consume implements Consumer.
func (g *Gatherer) Consume(ev Event) bool {
	if ev.Type != EventRaw {
		return false
	}
	addr := ev.Record.Address
	if _, ok := g.devices[addr]; !ok {
		g.order = append(g.order, addr)
	}
	g.devices[addr] = ev.Record.Summarize(ev.Validated)
	return false
}

// Devices returns the collection in first-seen order.
func (g *Gatherer) Devices() []Summary {
	out := make([]Summary, 0, len(g.order))
	for _, addr := range g.order {
		out = append(out, g.devices[addr])
	}
	return out
}
