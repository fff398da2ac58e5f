// Package catalog is the static, process-wide ECU address table (C8).
// It is immutable after construction and consumed without interpretation
// by the transport layer, the way the teacher's internal/vehicle.Manager
// held a static profiles map keyed by make/model (pre-trim: that
// "make-model -> static config" shape is generalized here to
// "ecu id -> static descriptor").
package catalog

import "fmt"

// Transport identifies which wire protocol(s) an ECU answers on.
type Transport int

const (
	TransportKLine Transport = 1 << iota
	TransportDCan
)

func (t Transport) Supports(want Transport) bool { return t&want != 0 }

func (t Transport) String() string {
	switch t {
	case TransportKLine:
		return "K"
	case TransportDCan:
		return "D"
	case TransportKLine | TransportDCan:
		return "both"
	default:
		return "none"
	}
}

// EcuDescriptor is an immutable catalog entry (spec §3).
type EcuDescriptor struct {
	ID         string
	KLineAddr  *byte
	CanTxID    *uint32
	CanRxID    *uint32
	Transports Transport
}

func b(v byte) *byte     { return &v }
func u(v uint32) *uint32 { return &v }

// Default is the representative table from spec §4.8.
var Default = []EcuDescriptor{
	{
		ID:         "DDE",
		KLineAddr:  b(0x12),
		CanTxID:    u(0x612),
		CanRxID:    u(0x613),
		Transports: TransportKLine | TransportDCan,
	},
	{
		ID:         "EGS",
		KLineAddr:  b(0x32),
		Transports: TransportKLine,
	},
	{
		ID:         "DSC",
		CanTxID:    u(0x6F1),
		CanRxID:    u(0x60F1),
		Transports: TransportDCan,
	},
	{
		ID:         "KOMBI",
		KLineAddr:  b(0x40),
		CanTxID:    u(0x640),
		CanRxID:    u(0x641),
		Transports: TransportKLine,
	},
	{
		ID:         "FRM",
		CanTxID:    u(0x6F1),
		CanRxID:    u(0x72F1),
		Transports: TransportDCan,
	},
}

// Catalog is a read-only, shared lookup over a table of descriptors.
// Construct once at startup; safe for concurrent use from any goroutine
// since nothing in it is ever mutated after New.
type Catalog struct {
	byID map[string]EcuDescriptor
}

// New validates rows and builds a lookup table. Invariant (spec §3): at
// least one transport populated; addresses match transports.
func New(rows []EcuDescriptor) (*Catalog, error) {
	byID := make(map[string]EcuDescriptor, len(rows))
	for _, r := range rows {
		if r.Transports == 0 {
			return nil, fmt.Errorf("catalog: ecu %q has no transport populated", r.ID)
		}
		if r.Transports.Supports(TransportKLine) && r.KLineAddr == nil {
			return nil, fmt.Errorf("catalog: ecu %q supports K-Line but has no k_line_addr", r.ID)
		}
		if r.Transports.Supports(TransportDCan) && (r.CanTxID == nil || r.CanRxID == nil) {
			return nil, fmt.Errorf("catalog: ecu %q supports D-CAN but is missing can ids", r.ID)
		}
		if _, dup := byID[r.ID]; dup {
			return nil, fmt.Errorf("catalog: duplicate ecu id %q", r.ID)
		}
		byID[r.ID] = r
	}
	return &Catalog{byID: byID}, nil
}

// NewDefault builds a Catalog from the spec §4.8 table.
func NewDefault() *Catalog {
	c, err := New(Default)
	if err != nil {
		// Default is a compile-time-known-good table; a failure here
		// means the table itself is broken, which is a programmer
		// error, not a runtime condition callers should handle.
		panic(err)
	}
	return c
}

// Lookup returns the descriptor for id.
func (c *Catalog) Lookup(id string) (EcuDescriptor, bool) {
	d, ok := c.byID[id]
	return d, ok
}

// List returns every descriptor, in no particular order.
func (c *Catalog) List() []EcuDescriptor {
	out := make([]EcuDescriptor, 0, len(c.byID))
	for _, d := range c.byID {
		out = append(out, d)
	}
	return out
}
