package models

import "strings"

// ClientConfig is the static configuration of one tenant, read from its
// config.json.
type ClientConfig struct {
	ClientID		string				`json:"clientId"`
	ClientName		string				`json:"clientName"`
	ZabbixServer	string				`json:"zabbixServer,omitempty"`
	ZabbixAPIToken	string				`json:"zabbixApiToken,omitempty"`
	Users			[]UserCredential	`json:"users,omitempty"`
}

type UserCredential struct {
	Username		string	`json:"username"`
	PasswordHash	string	`json:"passwordHash"`
}

// FindUser looks up a tenant user by name, ignoring case.
func (c *ClientConfig) FindUser(username string) (UserCredential, bool) {
	for _, u := range c.Users {
		if equalFold(u.Username, username) {
			return u, true
		}
	}
	return UserCredential{}, false
}

func equalFold(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
