package models

import (
	"time"
)

// Incident is one outage of one service. EndTime is nil while the
// incident is still open.
type Incident struct {
	ServiceName			string		`json:"serviceName"`
	TriggerName			string		`json:"triggerName"`
	StartTime			time.Time	`json:"startTime"`
	EndTime				*time.Time	`json:"endTime"`
	DurationSeconds		int64		`json:"durationSeconds"`
	DurationFormatted	string		`json:"durationFormatted"`
	IsActive			bool		`json:"isActive"`
}

type ServiceDowntimeDetail struct {
	ServiceName				string		`json:"serviceName"`
	IPAddress				string		`json:"ipAddress"`
	TotalDowntimeSeconds	int64		`json:"totalDowntimeSeconds"`
	TotalDowntimeFormatted	string		`json:"totalDowntimeFormatted"`
	IncidentCount			int			`json:"incidentCount"`
	Incidents				[]Incident	`json:"incidents"`
}

// DowntimeReport is the per-client aggregate produced by one recompute.
// TotalDowntimeSeconds is the sum of the per-service totals rounded up to
// whole minutes, not the raw sum of seconds.
type DowntimeReport struct {
	ClientID				string					`json:"clientId"`
	PeriodDays				int						`json:"periodDays"`
	GeneratedAt				time.Time				`json:"generatedAt"`
	TotalDowntimeSeconds	int64					`json:"totalDowntimeSeconds"`
	TotalDowntimeFormatted	string					`json:"totalDowntimeFormatted"`
	ServicesCount			int						`json:"servicesCount"`
	ServicesWithDowntime	int						`json:"servicesWithDowntime"`
	Availability			float64					`json:"availability"`
	Services				[]ServiceDowntimeDetail	`json:"services"`
	ActiveIncidents			[]Incident				`json:"activeIncidents"`
	ResolvedIncidents		[]Incident				`json:"resolvedIncidents"`
}

// Service returns the detail for name, compared case-insensitively.
func (r *DowntimeReport) Service(name string) (ServiceDowntimeDetail, bool) {
	for _, s := range r.Services {
		if equalFold(s.ServiceName, name) {
			return s, true
		}
	}
	return ServiceDowntimeDetail{}, false
}

// HasActiveIncident reports whether the service has an open incident.
func (s ServiceDowntimeDetail) HasActiveIncident() bool {
	for _, inc := range s.Incidents {
		if inc.IsActive {
			return true
		}
	}
	return false
}
