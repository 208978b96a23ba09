package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/rickgao/exaroton/internal/model"
)

// DefaultConfigFile is used by ConfigOptions when no path is given.
const DefaultConfigFile = "server.properties"

// ErrMissingPath is returned when a file operation is called without a path.
var ErrMissingPath = errors.New("file path is required")

func filePath(serverID, kind, path string) (string, error) {
	if path == "" {
		return "", ErrMissingPath
	}
	return serverPath(serverID, "/files/"+kind+"/"+escapePath(path))
}

// FileInfo describes a file or directory.
func (c *Client) FileInfo(ctx context.Context, serverID, path string) (*model.PathInfo, error) {
	p, err := filePath(serverID, "info", path)
	if err != nil {
		return nil, err
	}

	var info model.PathInfo
	if err := c.get(ctx, p, &info); err != nil {
		return nil, fmt.Errorf("file info %s: %w", path, err)
	}
	return &info, nil
}

// ReadFile returns the raw contents of a file.
func (c *Client) ReadFile(ctx context.Context, serverID, path string) ([]byte, error) {
	p, err := filePath(serverID, "data", path)
	if err != nil {
		return nil, err
	}

	data, err := c.doWithRetry(ctx, http.MethodGet, p, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("read file %s: %w", path, err)
	}
	return data, nil
}

// WriteFile writes data to a file, creating it if needed.
func (c *Client) WriteFile(ctx context.Context, serverID, path string, data []byte) error {
	p, err := filePath(serverID, "data", path)
	if err != nil {
		return err
	}

	b := &body{data: data, contentType: "application/octet-stream"}
	if err := c.call(ctx, http.MethodPut, p, b, nil); err != nil {
		return fmt.Errorf("write file %s: %w", path, err)
	}
	return nil
}

// CreateDirectory creates a directory.
func (c *Client) CreateDirectory(ctx context.Context, serverID, path string) error {
	p, err := filePath(serverID, "data", path)
	if err != nil {
		return err
	}

	b := &body{contentType: "inode/directory"}
	if err := c.call(ctx, http.MethodPut, p, b, nil); err != nil {
		return fmt.Errorf("create directory %s: %w", path, err)
	}
	return nil
}

// DeleteFile deletes a file or directory.
func (c *Client) DeleteFile(ctx context.Context, serverID, path string) error {
	p, err := filePath(serverID, "data", path)
	if err != nil {
		return err
	}

	if err := c.call(ctx, http.MethodDelete, p, nil, nil); err != nil {
		return fmt.Errorf("delete file %s: %w", path, err)
	}
	return nil
}

// ConfigOptions returns the options of a config file, server.properties
// when path is empty.
func (c *Client) ConfigOptions(ctx context.Context, serverID, path string) ([]model.ConfigOption, error) {
	if path == "" {
		path = DefaultConfigFile
	}
	p, err := filePath(serverID, "config", path)
	if err != nil {
		return nil, err
	}

	var options []model.ConfigOption
	if err := c.get(ctx, p, &options); err != nil {
		return nil, fmt.Errorf("config options %s: %w", path, err)
	}
	return options, nil
}

// SetConfigOptions sets options by key and returns the file's new options.
func (c *Client) SetConfigOptions(ctx context.Context, serverID, path string, values map[string]any) ([]model.ConfigOption, error) {
	if path == "" {
		path = DefaultConfigFile
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("set config options %s: no values", path)
	}
	p, err := filePath(serverID, "config", path)
	if err != nil {
		return nil, err
	}

	var options []model.ConfigOption
	if err := c.send(ctx, http.MethodPost, p, values, &options); err != nil {
		return nil, fmt.Errorf("set config options %s: %w", path, err)
	}
	return options, nil
}
