// Package registry loads MCP server records from a YAML file and serves them
// to mcpmgr.Manager as an mcpmgr.Registry.
//
// A registry file looks like:
//
//	servers:
//	  - name: weather
//	    transport: http
//	    base_url: https://weather.example.com
//	    api_key: ${WEATHER_API_KEY}
//	    timeout: 10s
//	  - name: files
//	    transport: sse
//	    base_url: http://localhost:9000
//	    headers:
//	      X-Workspace: demo
//	    enabled: false
//
// ${VAR} references are expanded from the environment before parsing.
// Servers are enabled unless they say otherwise, and a server without an id
// gets a stable one derived from its name.
package registry

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/vikashloomba/mcp-tool-client-go/pkg/mcpmgr"
)

type fileFormat struct {
	Servers []serverEntry `yaml:"servers"`
}

type serverEntry struct {
	ID          string            `yaml:"id"`
	Name        string            `yaml:"name"`
	Transport   string            `yaml:"transport"`
	BaseURL     string            `yaml:"base_url"`
	APIKey      string            `yaml:"api_key"`
	Headers     map[string]string `yaml:"headers"`
	ToolsPath   string            `yaml:"tools_path"`
	ExecutePath string            `yaml:"execute_path"`
	Timeout     string            `yaml:"timeout"`
	Enabled     *bool             `yaml:"enabled"`
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR} with the variable's value, or "" when unset.
func expandEnvVars(s string) string {
	return envPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envPattern.FindStringSubmatch(match)[1])
	})
}

// Parse decodes and validates a registry document.
func Parse(data []byte) ([]mcpmgr.ServerRecord, error) {
	var doc fileFormat
	if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), &doc); err != nil {
		return nil, fmt.Errorf("parsing registry: %w", err)
	}
	records := make([]mcpmgr.ServerRecord, 0, len(doc.Servers))
	for i, entry := range doc.Servers {
		rec, err := entry.record()
		if err != nil {
			return nil, fmt.Errorf("servers[%d]: %w", i, err)
		}
		records = append(records, rec)
	}
	if err := Validate(records); err != nil {
		return nil, fmt.Errorf("validating registry: %w", err)
	}
	return records, nil
}

func (e serverEntry) record() (mcpmgr.ServerRecord, error) {
	rec := mcpmgr.ServerRecord{
		ID:            strings.TrimSpace(e.ID),
		Name:          strings.TrimSpace(e.Name),
		TransportType: mcpmgr.TransportType(strings.ToLower(strings.TrimSpace(e.Transport))),
		BaseURL:       strings.TrimSpace(e.BaseURL),
		APIKey:        e.APIKey,
		Headers:       e.Headers,
		Config: mcpmgr.ServerSettings{
			ToolsPath:   e.ToolsPath,
			ExecutePath: e.ExecutePath,
		},
		Enabled: e.Enabled == nil || *e.Enabled,
	}
	if rec.ID == "" && rec.Name != "" {
		rec.ID = DefaultID(rec.Name)
	}
	if e.Timeout != "" {
		d, err := time.ParseDuration(e.Timeout)
		if err != nil {
			return rec, fmt.Errorf("parsing timeout %q: %w", e.Timeout, err)
		}
		if d <= 0 {
			return rec, fmt.Errorf("timeout must be positive, got %s", e.Timeout)
		}
		rec.Config.TimeoutMs = int(d / time.Millisecond)
	}
	return rec, nil
}

// DefaultID derives a stable server id from its name.
func DefaultID(name string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("mcp-server:"+name)).String()
}

// Validate checks a set of records and returns the first problem found.
func Validate(records []mcpmgr.ServerRecord) error {
	ids := make(map[string]struct{}, len(records))
	names := make(map[string]struct{}, len(records))
	for _, rec := range records {
		switch {
		case rec.Name == "":
			return errors.New("server name is required")
		case strings.Contains(rec.Name, mcpmgr.ToolSeparator):
			return fmt.Errorf("server %q: name must not contain %q", rec.Name, mcpmgr.ToolSeparator)
		case !mcpmgr.Supported(rec):
			return fmt.Errorf("server %q: transport must be http or sse, got %q", rec.Name, rec.TransportType)
		}
		if err := validateBaseURL(rec.BaseURL); err != nil {
			return fmt.Errorf("server %q: %w", rec.Name, err)
		}
		if _, dup := names[rec.Name]; dup {
			return fmt.Errorf("server %q: duplicate name", rec.Name)
		}
		if _, dup := ids[rec.ID]; dup {
			return fmt.Errorf("server %q: duplicate id %q", rec.Name, rec.ID)
		}
		names[rec.Name] = struct{}{}
		ids[rec.ID] = struct{}{}
	}
	return nil
}

func validateBaseURL(raw string) error {
	if raw == "" {
		return errors.New("base_url is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("base_url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("base_url %q must be http or https", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("base_url %q has no host", raw)
	}
	return nil
}

// File is an mcpmgr.Registry backed by a YAML file. The file is re-read
// whenever its modification time changes, so edits take effect on the next
// discovery without restarting the process.
type File struct {
	path string

	mu      sync.Mutex
	modTime time.Time
	servers []mcpmgr.ServerRecord
}

// Load reads and validates the registry file at path.
func Load(path string) (*File, error) {
	f := &File{path: path}
	if _, err := f.refresh(); err != nil {
		return nil, err
	}
	return f, nil
}

// Path returns the file the registry was loaded from.
func (f *File) Path() string { return f.path }

// ListServers implements mcpmgr.Registry.
func (f *File) ListServers(ctx context.Context) ([]mcpmgr.ServerRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return f.refresh()
}

func (f *File) refresh() ([]mcpmgr.ServerRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	info, err := os.Stat(f.path)
	if err != nil {
		return nil, fmt.Errorf("reading registry file: %w", err)
	}
	if f.servers == nil || !info.ModTime().Equal(f.modTime) {
		data, err := os.ReadFile(f.path)
		if err != nil {
			return nil, fmt.Errorf("reading registry file: %w", err)
		}
		servers, err := Parse(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", f.path, err)
		}
		f.servers = servers
		f.modTime = info.ModTime()
	}
	out := make([]mcpmgr.ServerRecord, len(f.servers))
	copy(out, f.servers)
	return out, nil
}
