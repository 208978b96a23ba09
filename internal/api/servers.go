package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/rickgao/exaroton/internal/model"
)

// Account fetches the account the token belongs to.
func (c *Client) Account(ctx context.Context) (*model.Account, error) {
	var account model.Account
	if err := c.get(ctx, "/account/", &account); err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	return &account, nil
}

// Servers lists every server the account can access.
func (c *Client) Servers(ctx context.Context) ([]model.Server, error) {
	var servers []model.Server
	if err := c.get(ctx, "/servers/", &servers); err != nil {
		return nil, fmt.Errorf("list servers: %w", err)
	}
	return servers, nil
}

// Server fetches one server.
func (c *Client) Server(ctx context.Context, serverID string) (*model.Server, error) {
	path, err := serverPath(serverID, "/")
	if err != nil {
		return nil, err
	}

	var server model.Server
	if err := c.get(ctx, path, &server); err != nil {
		return nil, fmt.Errorf("get server %s: %w", serverID, err)
	}
	if err := server.Validate(); err != nil {
		return nil, fmt.Errorf("get server %s: %w", serverID, err)
	}
	return &server, nil
}

// Log returns the current server log.
func (c *Client) Log(ctx context.Context, serverID string) (string, error) {
	path, err := serverPath(serverID, "/logs/")
	if err != nil {
		return "", err
	}

	var content logContent
	if err := c.get(ctx, path, &content); err != nil {
		return "", fmt.Errorf("get log: %w", err)
	}
	return content.Content, nil
}

// ShareLog uploads the server log to mclo.gs.
func (c *Client) ShareLog(ctx context.Context, serverID string) (*model.LogUpload, error) {
	path, err := serverPath(serverID, "/logs/share/")
	if err != nil {
		return nil, err
	}

	var upload model.LogUpload
	if err := c.get(ctx, path, &upload); err != nil {
		return nil, fmt.Errorf("share log: %w", err)
	}
	return &upload, nil
}

// RAM returns the server's RAM in GB.
func (c *Client) RAM(ctx context.Context, serverID string) (int, error) {
	path, err := serverPath(serverID, "/options/ram/")
	if err != nil {
		return 0, err
	}

	var opt ramOption
	if err := c.get(ctx, path, &opt); err != nil {
		return 0, fmt.Errorf("get ram: %w", err)
	}
	return opt.RAM, nil
}

// SetRAM changes the server's RAM and returns the new value.
func (c *Client) SetRAM(ctx context.Context, serverID string, gb int) (int, error) {
	if gb < 1 {
		return 0, fmt.Errorf("set ram: invalid amount %d", gb)
	}
	path, err := serverPath(serverID, "/options/ram/")
	if err != nil {
		return 0, err
	}

	var opt ramOption
	if err := c.send(ctx, http.MethodPost, path, ramOption{RAM: gb}, &opt); err != nil {
		return 0, fmt.Errorf("set ram: %w", err)
	}
	return opt.RAM, nil
}

// MOTD returns the server's message of the day.
func (c *Client) MOTD(ctx context.Context, serverID string) (string, error) {
	path, err := serverPath(serverID, "/options/motd/")
	if err != nil {
		return "", err
	}

	var opt motdOption
	if err := c.get(ctx, path, &opt); err != nil {
		return "", fmt.Errorf("get motd: %w", err)
	}
	return opt.MOTD, nil
}

// SetMOTD changes the message of the day and returns the new value.
func (c *Client) SetMOTD(ctx context.Context, serverID, motd string) (string, error) {
	path, err := serverPath(serverID, "/options/motd/")
	if err != nil {
		return "", err
	}

	var opt motdOption
	if err := c.send(ctx, http.MethodPost, path, motdOption{MOTD: motd}, &opt); err != nil {
		return "", fmt.Errorf("set motd: %w", err)
	}
	return opt.MOTD, nil
}

// Start starts the server. useOwnCredits bills a shared server to the
// caller's account.
func (c *Client) Start(ctx context.Context, serverID string, useOwnCredits bool) error {
	path, err := serverPath(serverID, "/start/")
	if err != nil {
		return err
	}

	if useOwnCredits {
		err = c.send(ctx, http.MethodPost, path, startRequest{UseOwnCredits: true}, nil)
	} else {
		err = c.get(ctx, path, nil)
	}
	if err != nil {
		return fmt.Errorf("start server: %w", err)
	}
	return nil
}

// Stop stops the server.
func (c *Client) Stop(ctx context.Context, serverID string) error {
	return c.power(ctx, serverID, "stop")
}

// Restart restarts the server.
func (c *Client) Restart(ctx context.Context, serverID string) error {
	return c.power(ctx, serverID, "restart")
}

func (c *Client) power(ctx context.Context, serverID, action string) error {
	path, err := serverPath(serverID, "/"+action+"/")
	if err != nil {
		return err
	}
	if err := c.get(ctx, path, nil); err != nil {
		return fmt.Errorf("%s server: %w", action, err)
	}
	return nil
}

// ExecuteCommand runs a console command.
func (c *Client) ExecuteCommand(ctx context.Context, serverID, command string) error {
	if command == "" {
		return errors.New("execute command: command is empty")
	}
	path, err := serverPath(serverID, "/command/")
	if err != nil {
		return err
	}
	if err := c.send(ctx, http.MethodPost, path, commandRequest{Command: command}, nil); err != nil {
		return fmt.Errorf("execute command: %w", err)
	}
	return nil
}

// PlayerLists returns the names of the server's player lists, usually
// whitelist, ops, banned-players and banned-ips.
func (c *Client) PlayerLists(ctx context.Context, serverID string) ([]string, error) {
	path, err := serverPath(serverID, "/playerlists/")
	if err != nil {
		return nil, err
	}

	var lists []string
	if err := c.get(ctx, path, &lists); err != nil {
		return nil, fmt.Errorf("get player lists: %w", err)
	}
	return lists, nil
}

// PlayerList returns the entries of one player list.
func (c *Client) PlayerList(ctx context.Context, serverID, list string) ([]string, error) {
	path, err := playerListPath(serverID, list)
	if err != nil {
		return nil, err
	}

	var entries []string
	if err := c.get(ctx, path, &entries); err != nil {
		return nil, fmt.Errorf("get player list %s: %w", list, err)
	}
	return entries, nil
}

// AddToPlayerList adds entries and returns the new list.
func (c *Client) AddToPlayerList(ctx context.Context, serverID, list string, entries ...string) ([]string, error) {
	return c.editPlayerList(ctx, http.MethodPut, serverID, list, entries)
}

// RemoveFromPlayerList removes entries and returns the new list.
func (c *Client) RemoveFromPlayerList(ctx context.Context, serverID, list string, entries ...string) ([]string, error) {
	return c.editPlayerList(ctx, http.MethodDelete, serverID, list, entries)
}

func (c *Client) editPlayerList(ctx context.Context, method, serverID, list string, entries []string) ([]string, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("edit player list %s: no entries", list)
	}
	path, err := playerListPath(serverID, list)
	if err != nil {
		return nil, err
	}

	var result []string
	if err := c.send(ctx, method, path, playerListEntries{Entries: entries}, &result); err != nil {
		return nil, fmt.Errorf("edit player list %s: %w", list, err)
	}
	return result, nil
}

func playerListPath(serverID, list string) (string, error) {
	if list == "" {
		return "", errors.New("player list name is required")
	}
	return serverPath(serverID, "/playerlists/"+url.PathEscape(list)+"/")
}
