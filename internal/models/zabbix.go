package models

// Host is a monitored host as returned by host.get.
type Host struct {
	HostID		string			`json:"hostid"`
	Host		string			`json:"host"`
	Name		string			`json:"name"`
	Status		string			`json:"status"`
	Available	string			`json:"available"`
	Interfaces	[]HostInterface	`json:"interfaces"`
}

type HostInterface struct {
	IP			string	`json:"ip"`
	Available	string	`json:"available"`
	Error		string	`json:"error"`
}

// Event is a problem or recovery event. Clock is Unix seconds, encoded as
// a string by the monitoring API. RecoveryEventID is "0" or empty when the
// problem has not been resolved.
type Event struct {
	EventID			string	`json:"eventid"`
	Clock			string	`json:"clock"`
	RecoveryEventID	string	`json:"r_eventid"`
	Name			string	`json:"name"`
}

// HasRecovery reports whether the event references a recovery event.
func (e Event) HasRecovery() bool {
	return e.RecoveryEventID != "" && e.RecoveryEventID != "0"
}

const (
	EventValueOK		= 0
	EventValueProblem	= 1
)

// EventQuery selects events for a host set and time window.
// All search terms must be present in the event name.
type EventQuery struct {
	HostIDs		[]string
	Search		[]string
	TimeFrom	int64
	TimeTill	int64
	Value		int
}
