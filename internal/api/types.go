package api

// logContent from GET /servers/{id}/logs
type logContent struct {
	Content string `json:"content"`
}

// ramOption from GET/POST /servers/{id}/options/ram
type ramOption struct {
	RAM int `json:"ram"`
}

// motdOption from GET/POST /servers/{id}/options/motd
type motdOption struct {
	MOTD string `json:"motd"`
}

// startRequest for POST /servers/{id}/start
type startRequest struct {
	UseOwnCredits bool `json:"useOwnCredits"`
}

// commandRequest for POST /servers/{id}/command
type commandRequest struct {
	Command string `json:"command"`
}

// playerListEntries for PUT/DELETE /servers/{id}/playerlists/{list}
type playerListEntries struct {
	Entries []string `json:"entries"`
}
