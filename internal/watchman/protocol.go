// Package watchman provides Watchman protocol implementation
package watchman

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"time"
)

const (
	unixSockPathTemplate = "%s/%s-state/sock"
	windowsPipeTemplate  = "\\\\.\\pipe\\watchman-%s"
)

// WatchmanPDU is the protocol data unit header exchanged at connection
// setup when the daemon speaks the binary PDU variant.
type WatchmanPDU struct {
	Version      int      `json:"version"`
	Capabilities []string `json:"capabilities,omitempty"`
}

// WatchmanCommand is a single line of the JSON request protocol: the verb
// followed by its positional arguments.
type WatchmanCommand []interface{}

// WatchmanResponse is a decoded reply or unilateral subscription push from
// Watchman.
type WatchmanResponse struct {
	Version         string          `json:"version,omitempty"`
	Error           string          `json:"error,omitempty"`
	Warning         string          `json:"warning,omitempty"`
	Clock           string          `json:"clock,omitempty"`
	IsFreshInstance bool            `json:"is_fresh_instance,omitempty"`
	Files           []WatchmanFile  `json:"-"`
	FilesRaw        json.RawMessage `json:"files,omitempty"`
	Root            string          `json:"root,omitempty"`
	Subscription    string          `json:"subscription,omitempty"`
	Unilateral      bool            `json:"unilateral,omitempty"`
	Log             string          `json:"log,omitempty"`
	Watch           string          `json:"watch,omitempty"`
	RelativeRoot    string          `json:"relative_path,omitempty"`
}

// UnmarshalJSON decodes the standard fields, then separately parses
// FilesRaw since Watchman sends it either as full file objects or, for a
// name-only query, a bare array of strings.
func (wr *WatchmanResponse) UnmarshalJSON(data []byte) error {
	type alias WatchmanResponse
	aux := &struct{ *alias }{alias: (*alias)(wr)}

	if err := json.Unmarshal(data, aux); err != nil {
		return err
	}

	if len(wr.FilesRaw) == 0 {
		return nil
	}

	var files []WatchmanFile
	if err := json.Unmarshal(wr.FilesRaw, &files); err == nil {
		wr.Files = files
		return nil
	}

	var names []string
	if err := json.Unmarshal(wr.FilesRaw, &names); err == nil {
		wr.Files = make([]WatchmanFile, len(names))
		for i, name := range names {
			wr.Files[i] = WatchmanFile{Name: name}
		}
	}

	return nil
}

// WatchmanFile is the per-file metadata Watchman reports for a query or
// subscription match.
type WatchmanFile struct {
	Name    string `json:"name"`
	Size    int64  `json:"size,omitempty"`
	Mode    int32  `json:"mode,omitempty"`
	UID     int    `json:"uid,omitempty"`
	GID     int    `json:"gid,omitempty"`
	MTimeMs int64  `json:"mtime_ms,omitempty"`
	CTimeMs int64  `json:"ctime_ms,omitempty"`
	Exists  bool   `json:"exists"`
	Type    string `json:"type,omitempty"` // 'f' file, 'd' directory, 'l' symlink
	New     bool   `json:"new,omitempty"`
}

// Expression is a Watchman query expression tree — always a JSON-array
// shaped []interface{} under the hood.
type Expression interface{}

// MatchExpression matches files against a glob pattern, optionally against
// the whole relative path rather than just the basename.
func MatchExpression(pattern string, wholename bool) Expression {
	if wholename {
		return []interface{}{"match", pattern, "wholename"}
	}
	return []interface{}{"match", pattern}
}

// TypeExpression matches by Watchman file type code ('f', 'd', 'l', ...).
func TypeExpression(fileType string) Expression {
	return []interface{}{"type", fileType}
}

// AllOfExpression requires every sub-expression to match (logical AND).
func AllOfExpression(exprs ...Expression) Expression {
	result := []interface{}{"allof"}
	for _, expr := range exprs {
		result = append(result, expr)
	}
	return result
}

// AnyOfExpression requires at least one sub-expression to match (logical OR).
func AnyOfExpression(exprs ...Expression) Expression {
	result := []interface{}{"anyof"}
	for _, expr := range exprs {
		result = append(result, expr)
	}
	return result
}

// NotExpression negates expr.
func NotExpression(expr Expression) Expression {
	return []interface{}{"not", expr}
}

// SinceExpression matches files changed since the given clock value.
func SinceExpression(clock string) Expression {
	return []interface{}{"since", clock}
}

// WatchmanConnection is a single JSON-protocol connection to the Watchman
// daemon's Unix socket (or named pipe on Windows).
type WatchmanConnection struct {
	conn     net.Conn
	reader   *bufio.Reader
	writer   *bufio.Writer
	sockPath string
}

// Connect locates the daemon's socket and dials it. Watchman doesn't send
// a greeting, so the connection is immediately ready for Send/Receive.
func Connect() (*WatchmanConnection, error) {
	sockPath, err := getWatchmanSocket()
	if err != nil {
		return nil, fmt.Errorf("failed to find watchman socket: %w", err)
	}

	conn, err := net.Dial("unix", sockPath)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to watchman: %w", err)
	}

	return &WatchmanConnection{
		conn:     conn,
		reader:   bufio.NewReader(conn),
		writer:   bufio.NewWriter(conn),
		sockPath: sockPath,
	}, nil
}

// Close closes the underlying socket.
func (wc *WatchmanConnection) Close() error {
	return wc.conn.Close()
}

// Send writes cmd to the daemon as a newline-terminated JSON line.
func (wc *WatchmanConnection) Send(cmd WatchmanCommand) error {
	data, err := json.Marshal(cmd)
	if err != nil {
		return err
	}

	if _, err := wc.writer.Write(data); err != nil {
		return err
	}
	if err := wc.writer.WriteByte('\n'); err != nil {
		return err
	}

	return wc.writer.Flush()
}

// Receive reads and decodes the next JSON line from the daemon. A response
// carrying a non-empty Error is returned alongside a non-nil error so
// callers can inspect either.
func (wc *WatchmanConnection) Receive() (*WatchmanResponse, error) {
	line, err := wc.reader.ReadBytes('\n')
	if err != nil {
		return nil, err
	}

	var resp WatchmanResponse
	if err := json.Unmarshal(line, &resp); err != nil {
		return nil, err
	}

	if resp.Error != "" {
		return &resp, fmt.Errorf("watchman error: %s", resp.Error)
	}

	return &resp, nil
}

// SendReceive sends cmd and blocks for the matching reply.
func (wc *WatchmanConnection) SendReceive(cmd WatchmanCommand) (*WatchmanResponse, error) {
	if err := wc.Send(cmd); err != nil {
		return nil, err
	}
	return wc.Receive()
}

// readInitialPDU consumes Watchman's binary PDU header if the daemon
// negotiated that transport; otherwise it rewinds the bytes it peeked so
// the plain JSON protocol reader sees them again.
func (wc *WatchmanConnection) readInitialPDU() error {
	var header [16]byte
	n, err := io.ReadFull(wc.reader, header[:])
	if err != nil || !bytes.Equal(header[:4], []byte{0x00, 0x01, 0x05, 0x00}) {
		wc.reader = bufio.NewReader(io.MultiReader(bytes.NewReader(header[:n]), wc.reader))
		return nil
	}

	capLen := binary.LittleEndian.Uint32(header[12:16])
	if capLen > 0 {
		capData := make([]byte, capLen)
		if _, err := io.ReadFull(wc.reader, capData); err != nil {
			return err
		}
	}

	return nil
}

// getWatchmanSocket asks the watchman CLI for its socket path, falling back
// to the conventional state-directory layout if the CLI isn't on PATH.
func getWatchmanSocket() (string, error) {
	if output, err := exec.Command("watchman", "get-sockname").Output(); err == nil {
		var result struct {
			Sockname string `json:"sockname"`
		}
		if err := json.Unmarshal(output, &result); err == nil && result.Sockname != "" {
			return result.Sockname, nil
		}
	}

	if runtime.GOOS == "windows" {
		return fmt.Sprintf(windowsPipeTemplate, os.Getenv("USERNAME")), nil
	}

	stateDir := os.Getenv("WATCHMAN_STATE_DIR")
	if stateDir == "" {
		stateDir = "/usr/local/var/run/watchman"
		if _, err := os.Stat(stateDir); os.IsNotExist(err) {
			stateDir = filepath.Join(os.TempDir(), ".watchman")
		}
	}

	user := os.Getenv("USER")
	if user == "" {
		user = os.Getenv("USERNAME")
	}

	return fmt.Sprintf(unixSockPathTemplate, stateDir, user), nil
}

// Query is a one-shot file query against a watched root.
type Query struct {
	Expression   Expression `json:"expression,omitempty"`
	Fields       []string   `json:"fields,omitempty"`
	Since        string     `json:"since,omitempty"`
	Suffix       []string   `json:"suffix,omitempty"`
	RelativeRoot string     `json:"relative_root,omitempty"`
}

// SubscriptionQuery configures an ongoing subscription: which files to
// report, whether to suppress the synthetic fresh-instance burst, and
// which VCS-churn events to defer.
type SubscriptionQuery struct {
	Expression   Expression `json:"expression,omitempty"`
	Fields       []string   `json:"fields,omitempty"`
	Since        string     `json:"since,omitempty"`
	DeferVCS     bool       `json:"defer_vcs,omitempty"`
	Drop         []string   `json:"drop,omitempty"`
	RelativeRoot string     `json:"relative_root,omitempty"`
	Empty        bool       `json:"empty_on_fresh_instance,omitempty"`
}

// WatchProject asks Watchman to start watching path (or reuse an existing
// watch that already covers it).
func (wc *WatchmanConnection) WatchProject(path string) (*WatchmanResponse, error) {
	return wc.SendReceive(WatchmanCommand{"watch-project", path})
}

// Subscribe registers a named subscription against root.
func (wc *WatchmanConnection) Subscribe(root, name string, query SubscriptionQuery) (*WatchmanResponse, error) {
	return wc.SendReceive(WatchmanCommand{"subscribe", root, name, query})
}

// Unsubscribe removes a named subscription.
func (wc *WatchmanConnection) Unsubscribe(root, name string) error {
	_, err := wc.SendReceive(WatchmanCommand{"unsubscribe", root, name})
	return err
}

// Query runs a one-shot query against root.
func (wc *WatchmanConnection) Query(root string, query Query) (*WatchmanResponse, error) {
	return wc.SendReceive(WatchmanCommand{"query", root, query})
}

// Clock returns the daemon's current clock value for root, used as the
// "since" baseline for a later incremental query or subscription.
func (wc *WatchmanConnection) Clock(root string) (string, error) {
	resp, err := wc.SendReceive(WatchmanCommand{"clock", root})
	if err != nil {
		return "", err
	}
	return resp.Clock, nil
}

// Version returns the connected daemon's version string.
func (wc *WatchmanConnection) Version() (string, error) {
	resp, err := wc.SendReceive(WatchmanCommand{"version"})
	if err != nil {
		return "", err
	}
	return resp.Version, nil
}

// Trigger registers a server-side trigger that runs command whenever a
// file matching query.Expression changes.
func (wc *WatchmanConnection) Trigger(root, name string, query Query, command []string) error {
	_, err := wc.SendReceive(WatchmanCommand{
		"trigger",
		root,
		map[string]interface{}{
			"name":       name,
			"expression": query.Expression,
			"command":    command,
		},
	})
	return err
}

// TriggerDel removes a previously registered trigger.
func (wc *WatchmanConnection) TriggerDel(root, name string) error {
	_, err := wc.SendReceive(WatchmanCommand{"trigger-del", root, name})
	return err
}

// TriggerList lists triggers registered against root.
func (wc *WatchmanConnection) TriggerList(root string) (*WatchmanResponse, error) {
	return wc.SendReceive(WatchmanCommand{"trigger-list", root})
}

// GetConfig sends a get-config request for root and reports any error.
// The daemon's reply is not decoded: the returned map is always empty.
func (wc *WatchmanConnection) GetConfig(root string) (map[string]interface{}, error) {
	if _, err := wc.SendReceive(WatchmanCommand{"get-config", root}); err != nil {
		return nil, err
	}
	return make(map[string]interface{}), nil
}

// SetConfig updates root's Watchman configuration.
func (wc *WatchmanConnection) SetConfig(root string, config map[string]interface{}) error {
	_, err := wc.SendReceive(WatchmanCommand{"set-config", root, config})
	return err
}

// Shutdown asks the daemon to terminate itself.
func (wc *WatchmanConnection) Shutdown() error {
	_, err := wc.SendReceive(WatchmanCommand{"shutdown-server"})
	return err
}

// FileEvent is the backend-neutral change notification both the Watchman
// and fsnotify code paths normalize onto.
type FileEvent struct {
	Path    string
	Type    EventType
	IsDir   bool
	Size    int64
	Mode    os.FileMode
	ModTime time.Time
}

// EventType classifies a FileEvent.
type EventType int

const (
	FileCreated EventType = iota
	FileModified
	FileDeleted
	FileRenamed
)

// ConvertWatchmanFile turns a query/subscription result entry into a
// FileEvent rooted at root.
func ConvertWatchmanFile(root string, wf WatchmanFile) FileEvent {
	event := FileEvent{
		Path:    filepath.Join(root, wf.Name),
		IsDir:   wf.Type == "d",
		Size:    wf.Size,
		ModTime: time.Unix(0, wf.MTimeMs*int64(time.Millisecond)),
	}

	switch {
	case !wf.Exists:
		event.Type = FileDeleted
	case wf.New:
		event.Type = FileCreated
	default:
		event.Type = FileModified
	}

	if wf.Mode != 0 {
		event.Mode = os.FileMode(wf.Mode)
	}

	return event
}
