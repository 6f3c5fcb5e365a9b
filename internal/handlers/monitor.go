package handlers

import (
	"fmt"
	"math"
	"net/http"
	"sort"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ruby4mag/service-downtime-backend/internal/auth"
	"github.com/ruby4mag/service-downtime-backend/internal/models"
)

const timeLayout = "2006-01-02 15:04:05"

type ServiceStatus struct {
	Name      string `json:"name"`
	Status    string `json:"status"`
	Active    bool   `json:"active"`
	LastCheck string `json:"lastcheck"`
}

type Problem struct {
	Name            string  `json:"name"`
	Service         string  `json:"service"`
	Severity        string  `json:"severity"`
	SeverityLevel   string  `json:"severityLevel"`
	Status          string  `json:"status"`
	Started         string  `json:"started"`
	DurationMinutes float64 `json:"durationMinutes"`
}

type Dashboard struct {
	Host struct {
		Name      string `json:"name"`
		IP        string `json:"ip"`
		Status    string `json:"status"`
		Available string `json:"available"`
	} `json:"host"`
	Availability struct {
		Percent         float64 `json:"percent"`
		DowntimeMinutes float64 `json:"downtimeMinutes"`
		UptimeMinutes   float64 `json:"uptimeMinutes"`
		TotalMinutes    float64 `json:"totalMinutes"`
	} `json:"availability"`
	Problems struct {
		Total    int `json:"total"`
		Active   int `json:"active"`
		Resolved int `json:"resolved"`
	} `json:"problems"`
}

type HostInfo struct {
	HostID    string `json:"hostid"`
	Hostname  string `json:"hostname"`
	IP        string `json:"ip"`
	Status    string `json:"status"`
	Available string `json:"available"`
	Error     string `json:"error"`
}

// ListClients lists the clients the token may read.
func (h *Handler) ListClients(c *gin.Context) {
	claims := auth.ClaimsFrom(c)
	clients := []string{}
	for _, id := range h.Clients.ListClientIDs() {
		if claims != nil && claims.Allows(id) {
			clients = append(clients, id)
		}
	}
	c.JSON(http.StatusOK, gin.H{"clients": clients})
}

// Services reports every configured service as Running or Stopped
// depending on whether the stored report has an active incident for it.
func (h *Handler) Services(c *gin.Context) {
	cfg := clientFrom(c)
	serviceMap, err := h.Clients.ServiceMap(cfg.ClientID)
	if err != nil {
		h.logger.Error("loading services failed", zap.String("client", cfg.ClientID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load services"})
		return
	}
	names := make([]string, 0, len(serviceMap))
	for name := range serviceMap {
		names = append(names, name)
	}
	sort.Strings(names)

	report, ok, err := h.Reports.Get(cfg.ClientID)
	if err != nil {
		h.logger.Warn("reading report failed", zap.String("client", cfg.ClientID), zap.Error(err))
	}
	services := make([]ServiceStatus, 0, len(names))

	if err != nil || !ok {
		for _, name := range names {
			services = append(services, ServiceStatus{Name: name, Status: "Unknown", Active: true, LastCheck: "waiting for data"})
		}
		c.JSON(http.StatusOK, services)
		return
	}

	if notModified(c, report) {
		return
	}
	lastCheck := report.GeneratedAt.UTC().Format(timeLayout)
	for _, name := range names {
		stopped := false
		if detail, found := report.Service(name); found {
			stopped = detail.HasActiveIncident()
		}
		status := ServiceStatus{Name: name, Status: "Running", Active: true, LastCheck: lastCheck}
		if stopped {
			status.Status = "Stopped"
			status.Active = false
		}
		services = append(services, status)
	}
	c.JSON(http.StatusOK, services)
}

// Problems lists active incidents, or resolved ones with ?resolved=1.
func (h *Handler) Problems(c *gin.Context) {
	report := h.loadReport(c)
	if report == nil {
		return
	}
	wantResolved := c.Query("resolved") == "1"

	problems := []Problem{}
	for _, svc := range report.Services {
		for _, inc := range svc.Incidents {
			if inc.IsActive == wantResolved {
				continue
			}
			problems = append(problems, toProblem(svc.ServiceName, inc))
		}
	}
	sort.SliceStable(problems, func(i, j int) bool {
		if problems[i].SeverityLevel != problems[j].SeverityLevel {
			return problems[i].SeverityLevel > problems[j].SeverityLevel
		}
		return problems[i].Started > problems[j].Started
	})
	c.JSON(http.StatusOK, problems)
}

func toProblem(service string, inc models.Incident) Problem {
	p := Problem{
		Name:            inc.TriggerName,
		Service:         service,
		Severity:        "Average",
		SeverityLevel:   "3",
		Status:          "Resolved",
		Started:         inc.StartTime.UTC().Format(timeLayout),
		DurationMinutes: math.Round(float64(inc.DurationSeconds)/60*100) / 100,
	}
	if strings.Contains(strings.ToLower(inc.TriggerName), "not running") {
		p.Severity = "High"
		p.SeverityLevel = "4"
	}
	if inc.IsActive {
		p.Status = "Active"
	}
	return p
}

func (h *Handler) Dashboard(c *gin.Context) {
	report := h.loadReport(c)
	if report == nil {
		return
	}
	ips := h.hostAddresses(clientFrom(c).ClientID)

	var d Dashboard
	d.Host.Name = fmt.Sprintf("%s - %d host(s)", strings.ToUpper(report.ClientID), len(ips))
	d.Host.IP = strings.Join(ips, ", ")
	d.Host.Status = "Online"
	d.Host.Available = "1"

	total := float64(report.PeriodDays) * 24 * 60 * float64(report.ServicesCount)
	downtime := float64(report.TotalDowntimeSeconds) / 60
	d.Availability.Percent = report.Availability
	d.Availability.DowntimeMinutes = downtime
	d.Availability.TotalMinutes = total
	d.Availability.UptimeMinutes = math.Max(total-downtime, 0)

	d.Problems.Active = len(report.ActiveIncidents)
	d.Problems.Resolved = len(report.ResolvedIncidents)
	d.Problems.Total = d.Problems.Active + d.Problems.Resolved

	c.JSON(http.StatusOK, d)
}

// HostInfo looks up the first configured address in the monitoring
// backend.
func (h *Handler) HostInfo(c *gin.Context) {
	cfg := clientFrom(c)
	ips := h.hostAddresses(cfg.ClientID)
	if len(ips) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "No hosts configured"})
		return
	}

	source, err := h.Sources.For(cfg)
	if err != nil {
		h.logger.Error("monitoring client unavailable", zap.String("client", cfg.ClientID), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "Monitoring backend unavailable"})
		return
	}
	hosts, err := source.GetHosts(c.Request.Context(), ips[0])
	if err != nil {
		h.logger.Error("host lookup failed", zap.String("client", cfg.ClientID), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "Monitoring backend unavailable"})
		return
	}
	if len(hosts) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "Host not found"})
		return
	}

	host := hosts[0]
	info := HostInfo{HostID: host.HostID, Hostname: host.Name, IP: "N/A", Status: "Offline"}
	if len(host.Interfaces) > 0 {
		iface := host.Interfaces[0]
		info.IP = iface.IP
		info.Available = iface.Available
		info.Error = iface.Error
		if iface.Available == "1" {
			info.Status = "Online"
		}
	}
	c.JSON(http.StatusOK, info)
}

// hostAddresses returns the distinct configured addresses, sorted.
func (h *Handler) hostAddresses(clientID string) []string {
	services, err := h.Clients.ServiceMap(clientID)
	if err != nil {
		h.logger.Warn("loading services failed", zap.String("client", clientID), zap.Error(err))
		return nil
	}
	seen := make(map[string]bool)
	ips := []string{}
	for _, addr := range services {
		if addr == "" || seen[addr] {
			continue
		}
		seen[addr] = true
		ips = append(ips, addr)
	}
	sort.Strings(ips)
	return ips
}
