package model

// EventType discriminates the kinds of items an itinerary day can hold.
// The type is fixed at creation; changing it means delete + recreate.
type EventType string

const (
	TypeFlight           EventType = "flight"
	TypeTransfer         EventType = "transfer"
	TypeHotel            EventType = "hotel"
	TypeVisit            EventType = "visit"
	TypeFood             EventType = "food"
	TypeLeisure          EventType = "leisure"
	TypeReturn           EventType = "return"
	TypeAIRecommendation EventType = "ai_recommendation"
)

// Valid reports whether t is one of the known event types.
func (t EventType) Valid() bool {
	switch t {
	case TypeFlight, TypeTransfer, TypeHotel, TypeVisit, TypeFood,
		TypeLeisure, TypeReturn, TypeAIRecommendation:
		return true
	}
	return false
}

// Status is informational only; the engine never branches on it.
type Status string

const (
	StatusConfirmed Status = "confirmed"
	StatusQuoting   Status = "quoting"
	StatusQuoted    Status = "quoted"
	StatusFree      Status = "free"
)

// Hotel subtitles used as the role discriminator for stay halves.
const (
	SubtitleCheckIn  = "Check-in"
	SubtitleCheckOut = "Check-out"
)

// FlightLeg is one intermediate hop of a connecting flight. Legs are for
// display only; the flight is a single busy interval.
type FlightLeg struct {
	FromCode string `json:"fromCode"`
	ToCode   string `json:"toCode"`
	Date     string `json:"date,omitempty"`
	FromTime string `json:"fromTime,omitempty"`
	ToTime   string `json:"toTime,omitempty"`
	Flight   string `json:"flight,omitempty"`
}

// Event is a single scheduled item of a group's itinerary.
//
// Dates are day keys (either DD/MM/YYYY or YYYY-MM-DD, see timeutil) and
// times are local "HH:MM" clock strings; events never span midnight.
type Event struct {
	ID      string    `json:"id"`
	GroupID string    `json:"groupId,omitempty"`
	Type    EventType `json:"type"`

	Title    string `json:"title"`
	Subtitle string `json:"subtitle,omitempty"`

	Date     string `json:"date"`
	Time     string `json:"time,omitempty"`
	FromTime string `json:"fromTime,omitempty"`
	ToTime   string `json:"toTime,omitempty"`
	EndTime  string `json:"endTime,omitempty"`
	Duration string `json:"duration,omitempty"`

	Location string `json:"location,omitempty"`
	FromCode string `json:"fromCode,omitempty"`
	ToCode   string `json:"toCode,omitempty"`
	City     string `json:"city,omitempty"`

	HasTransfer  bool   `json:"hasTransfer,omitempty"`
	TransferDate string `json:"transferDate,omitempty"`
	TransferTime string `json:"transferTime,omitempty"`

	// ParentID links a transfer (or a stay half) to the event it belongs to
	// when the creating surface knows it. Empty means "infer by heuristics".
	ParentID string `json:"parentId,omitempty"`

	Passengers  []string    `json:"passengers,omitempty"`
	Status      Status      `json:"status,omitempty"`
	Connections []FlightLeg `json:"connections,omitempty"`
}

func (e Event) IsTransfer() bool { return e.Type == TypeTransfer }

func (e Event) IsHotel() bool { return e.Type == TypeHotel }

// StartClock returns the raw start clock string. Flights prefer FromTime.
func (e Event) StartClock() string {
	if e.Type == TypeFlight && e.FromTime != "" {
		return e.FromTime
	}
	if e.Time != "" {
		return e.Time
	}
	return e.FromTime
}

// EndClock returns the explicit end clock string, if any.
func (e Event) EndClock() string {
	if e.ToTime != "" {
		return e.ToTime
	}
	return e.EndTime
}

// Slot is a half-open [Start, End) interval in minutes since local midnight.
type Slot struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Overlaps reports whether two half-open slots intersect. Slots that only
// share a boundary do not overlap.
func (s Slot) Overlaps(o Slot) bool {
	return s.Start < o.End && o.Start < s.End
}

func (s Slot) Minutes() int { return s.End - s.Start }
