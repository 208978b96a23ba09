package model

import (
	"encoding/json"
	"errors"
	"fmt"
)

// -----------------------------------------------------------------------------
// Server Status
// -----------------------------------------------------------------------------

// ServerStatus is the numeric lifecycle status of a server.
type ServerStatus int

const (
	StatusOffline    ServerStatus = 0
	StatusOnline     ServerStatus = 1
	StatusStarting   ServerStatus = 2
	StatusStopping   ServerStatus = 3
	StatusRestarting ServerStatus = 4
	StatusSaving     ServerStatus = 5
	StatusLoading    ServerStatus = 6
	StatusCrashed    ServerStatus = 7
	StatusPending    ServerStatus = 8
	StatusPreparing  ServerStatus = 10 // 9 is unused by the API
)

var statusNames = map[ServerStatus]string{
	StatusOffline:    "offline",
	StatusOnline:     "online",
	StatusStarting:   "starting",
	StatusStopping:   "stopping",
	StatusRestarting: "restarting",
	StatusSaving:     "saving",
	StatusLoading:    "loading",
	StatusCrashed:    "crashed",
	StatusPending:    "pending",
	StatusPreparing:  "preparing",
}

// String returns the lowercase status name.
func (s ServerStatus) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", int(s))
}

// Valid reports whether s is a status the API is known to emit.
func (s ServerStatus) Valid() bool {
	_, ok := statusNames[s]
	return ok
}

// IsRunning returns true for statuses in which the server process is up.
func (s ServerStatus) IsRunning() bool {
	switch s {
	case StatusOnline, StatusStopping, StatusRestarting, StatusSaving:
		return true
	}
	return false
}

// -----------------------------------------------------------------------------
// Account
// -----------------------------------------------------------------------------

// Account is the authenticated exaroton account.
type Account struct {
	Name     string  `json:"name"`
	Email    string  `json:"email"`
	Verified bool    `json:"verified"`
	Credits  float64 `json:"credits"`
}

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// ServerPlayers describes the online player list.
type ServerPlayers struct {
	Max   int      `json:"max"`
	Count int      `json:"count"`
	List  []string `json:"list"`
}

// ServerSoftware identifies the installed server software.
type ServerSoftware struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Server is a single exaroton server.
type Server struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Address  string          `json:"address"`
	MOTD     string          `json:"motd"`
	Status   ServerStatus    `json:"status"`
	Host     *string         `json:"host"` // nil while offline
	Port     *int            `json:"port"` // nil while offline
	Players  ServerPlayers   `json:"players"`
	Software *ServerSoftware `json:"software"`
	Shared   bool            `json:"shared"`
}

// ErrInvalidServer is returned by Server.Validate.
var ErrInvalidServer = errors.New("invalid server")

// Validate checks the fields every server object must carry.
func (s *Server) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidServer)
	}
	if !s.Status.Valid() {
		return fmt.Errorf("%w: unknown status %d", ErrInvalidServer, int(s.Status))
	}
	return nil
}

// -----------------------------------------------------------------------------
// Logs
// -----------------------------------------------------------------------------

// LogUpload is the result of sharing a server log to mclo.gs.
type LogUpload struct {
	ID  string `json:"id"`
	URL string `json:"url"`
	Raw string `json:"raw"`
}

// -----------------------------------------------------------------------------
// Files
// -----------------------------------------------------------------------------

// PathInfo describes a file or directory on a server.
type PathInfo struct {
	Path         string     `json:"path"`
	Name         string     `json:"name"`
	IsTextFile   bool       `json:"isTextFile"`
	IsConfigFile bool       `json:"isConfigFile"`
	IsDirectory  bool       `json:"isDirectory"`
	IsLog        bool       `json:"isLog"`
	IsReadable   bool       `json:"isReadable"`
	IsWritable   bool       `json:"isWritable"`
	Size         int64      `json:"size"`
	Children     []PathInfo `json:"children,omitempty"`
}

// ConfigOption is a single option of a config file such as server.properties.
//
// Value is a string, float64 or bool depending on Type. Options is only set
// for "select" and "multiselect" types.
type ConfigOption struct {
	Key     string            `json:"key"`
	Value   any               `json:"value"`
	Label   string            `json:"label"`
	Type    string            `json:"type"`
	Options []json.RawMessage `json:"options,omitempty"`
}
