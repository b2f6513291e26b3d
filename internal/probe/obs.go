package probe

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/stewardops/steward/internal/config"
	"github.com/stewardops/steward/internal/types"
)

// obs-websocket v5 opcodes.
const (
	obsOpHello           = 0
	obsOpIdentify        = 1
	obsOpIdentified      = 2
	obsOpRequest         = 6
	obsOpRequestResponse = 7
)

// OBSProbe reports streaming state from OBS Studio over its WebSocket v5
// API: live flag, dropped-frame percentage, fps, and encoder resource use.
// It reconnects lazily on each poll if the connection was lost, and exposes
// stream start/stop as operator commands.
type OBSProbe struct {
	cfg config.OBSProbeConfig

	mu        sync.Mutex
	conn      *websocket.Conn
	requestID int
	last      types.Snapshot
}

// NewOBSProbe creates the OBS streaming probe.
func NewOBSProbe(cfg config.OBSProbeConfig) *OBSProbe {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 4455
	}
	return &OBSProbe{cfg: cfg}
}

// Name implements Probe.
func (p *OBSProbe) Name() string { return "obs" }

// Status implements Probe.
func (p *OBSProbe) Status(ctx context.Context) (types.Snapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.ensureConnected(ctx); err != nil {
		return types.Snapshot{}, err
	}

	stream, err := p.request(ctx, "GetStreamStatus", nil)
	if err != nil {
		p.dropConnection()
		return types.Snapshot{}, err
	}
	stats, err := p.request(ctx, "GetStats", nil)
	if err != nil {
		p.dropConnection()
		return types.Snapshot{}, err
	}

	framesDropped := jsonNumber(stats["outputSkippedFrames"])
	framesTotal := jsonNumber(stats["outputTotalFrames"])
	droppedPct := 0.0
	if framesTotal > 0 {
		droppedPct = round2(framesDropped / framesTotal * 100)
	}

	streaming, _ := stream["outputActive"].(bool)
	snap := types.Snapshot{
		Probe:   p.Name(),
		TakenAt: time.Now(),
		Metrics: map[string]any{
			"streaming":      streaming,
			"duration_sec":   jsonNumber(stream["outputDuration"]) / 1000,
			"bytes_sent":     jsonNumber(stream["outputBytes"]),
			"frames_dropped": framesDropped,
			"frames_total":   framesTotal,
			"dropped_pct":    droppedPct,
			"fps":            jsonNumber(stats["activeFps"]),
			"cpu_usage":      jsonNumber(stats["cpuUsage"]),
			"memory_mb":      jsonNumber(stats["memoryUsage"]),
		},
	}
	p.last = snap
	return snap, nil
}

// Alerts implements Probe. Dropped frames only matter while live.
func (p *OBSProbe) Alerts(snap types.Snapshot) []types.Alert {
	streaming, _ := snap.Metrics["streaming"].(bool)
	if !streaming {
		return nil
	}
	dropped, _ := snap.Metrics["dropped_pct"].(float64)
	if p.cfg.DroppedPctMax <= 0 || dropped <= p.cfg.DroppedPctMax {
		return nil
	}
	return []types.Alert{{
		Metric:   "dropped_pct",
		Severity: types.SeverityCritical,
		Message:  fmt.Sprintf("OBS dropped frames: %.2f%%", dropped),
		Source:   p.Name(),
	}}
}

// SummaryLine implements Probe.
func (p *OBSProbe) SummaryLine() string {
	p.mu.Lock()
	snap := p.last
	p.mu.Unlock()

	if snap.Metrics == nil {
		return "obs: not connected"
	}
	streaming, _ := snap.Metrics["streaming"].(bool)
	if !streaming {
		return "obs: offline"
	}
	duration := int(floatOr(snap.Metrics["duration_sec"]))
	return fmt.Sprintf("obs: LIVE %dh%02dm, %.2f%% dropped, %.0f fps",
		duration/3600, duration%3600/60,
		floatOr(snap.Metrics["dropped_pct"]),
		floatOr(snap.Metrics["fps"]))
}

// Execute implements Executor. The command set is closed.
func (p *OBSProbe) Execute(ctx context.Context, command string) (types.CommandResult, error) {
	requests := map[string]string{
		"start_stream":    "StartStream",
		"stop_stream":     "StopStream",
		"toggle_stream":   "ToggleStream",
		"start_recording": "StartRecord",
		"stop_recording":  "StopRecord",
	}
	requestType, ok := requests[command]
	if !ok {
		return types.CommandResult{Message: fmt.Sprintf("unknown command %q", command)}, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.ensureConnected(ctx); err != nil {
		return types.CommandResult{Message: err.Error()}, nil
	}
	if _, err := p.request(ctx, requestType, nil); err != nil {
		p.dropConnection()
		return types.CommandResult{Message: err.Error()}, nil
	}
	return types.CommandResult{Success: true, Message: command + " executed"}, nil
}

// ensureConnected dials and performs the Hello/Identify handshake if there
// is no live connection. Caller holds p.mu.
func (p *OBSProbe) ensureConnected(ctx context.Context) error {
	if p.conn != nil {
		return nil
	}

	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	url := fmt.Sprintf("ws://%s:%d", p.cfg.Host, p.cfg.Port)
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("connecting to OBS at %s: %w", url, err)
	}

	var hello obsMessage
	if err := readMessage(ctx, conn, &hello); err != nil {
		conn.Close()
		return fmt.Errorf("reading OBS hello: %w", err)
	}
	if hello.Op != obsOpHello {
		conn.Close()
		return fmt.Errorf("unexpected OBS opcode %d, want hello", hello.Op)
	}

	identify := map[string]any{"rpcVersion": 1}
	var auth struct {
		Authentication *struct {
			Challenge string `json:"challenge"`
			Salt      string `json:"salt"`
		} `json:"authentication"`
	}
	if err := json.Unmarshal(hello.Data, &auth); err == nil &&
		auth.Authentication != nil && p.cfg.Password != "" {
		identify["authentication"] = obsAuthString(
			p.cfg.Password, auth.Authentication.Salt, auth.Authentication.Challenge)
	}

	if err := writeMessage(conn, obsOpIdentify, identify); err != nil {
		conn.Close()
		return fmt.Errorf("sending OBS identify: %w", err)
	}

	var identified obsMessage
	if err := readMessage(ctx, conn, &identified); err != nil {
		conn.Close()
		return fmt.Errorf("reading OBS identified: %w", err)
	}
	if identified.Op != obsOpIdentified {
		conn.Close()
		return fmt.Errorf("OBS authentication rejected (opcode %d)", identified.Op)
	}

	p.conn = conn
	return nil
}

// request sends one request and waits for its matching response, skipping
// unrelated events. Caller holds p.mu.
func (p *OBSProbe) request(ctx context.Context, requestType string, data map[string]any) (map[string]any, error) {
	p.requestID++
	id := strconv.Itoa(p.requestID)

	payload := map[string]any{
		"requestType": requestType,
		"requestId":   id,
	}
	if data != nil {
		payload["requestData"] = data
	}
	if err := writeMessage(p.conn, obsOpRequest, payload); err != nil {
		return nil, fmt.Errorf("sending %s: %w", requestType, err)
	}

	// Event messages can interleave with the response; bounded scan so a
	// misbehaving server cannot wedge the poll.
	for attempt := 0; attempt < 10; attempt++ {
		var msg obsMessage
		if err := readMessage(ctx, p.conn, &msg); err != nil {
			return nil, fmt.Errorf("awaiting %s response: %w", requestType, err)
		}
		if msg.Op != obsOpRequestResponse {
			continue
		}

		var resp struct {
			RequestID     string `json:"requestId"`
			RequestStatus struct {
				Result  bool   `json:"result"`
				Comment string `json:"comment"`
			} `json:"requestStatus"`
			ResponseData map[string]any `json:"responseData"`
		}
		if err := json.Unmarshal(msg.Data, &resp); err != nil {
			return nil, fmt.Errorf("parsing %s response: %w", requestType, err)
		}
		if resp.RequestID != id {
			continue
		}
		if !resp.RequestStatus.Result {
			return nil, fmt.Errorf("%s failed: %s", requestType, resp.RequestStatus.Comment)
		}
		return resp.ResponseData, nil
	}
	return nil, fmt.Errorf("no response to %s after 10 messages", requestType)
}

func (p *OBSProbe) dropConnection() {
	if p.conn != nil {
		p.conn.Close()
		p.conn = nil
	}
}

type obsMessage struct {
	Op   int             `json:"op"`
	Data json.RawMessage `json:"d"`
}

func readMessage(ctx context.Context, conn *websocket.Conn, out *obsMessage) error {
	deadline := time.Now().Add(10 * time.Second)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetReadDeadline(deadline); err != nil {
		return err
	}
	return conn.ReadJSON(out)
}

func writeMessage(conn *websocket.Conn, op int, data any) error {
	if err := conn.SetWriteDeadline(time.Now().Add(10 * time.Second)); err != nil {
		return err
	}
	return conn.WriteJSON(map[string]any{"op": op, "d": data})
}

// obsAuthString derives the v5 auth response:
// base64(sha256(base64(sha256(password+salt)) + challenge)).
func obsAuthString(password, salt, challenge string) string {
	secretSum := sha256.Sum256([]byte(password + salt))
	secret := base64.StdEncoding.EncodeToString(secretSum[:])
	authSum := sha256.Sum256([]byte(secret + challenge))
	return base64.StdEncoding.EncodeToString(authSum[:])
}

func jsonNumber(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case json.Number:
		f, _ := n.Float64()
		return f
	default:
		return 0
	}
}

func round2(v float64) float64 {
	return float64(int(v*100+0.5)) / 100
}
