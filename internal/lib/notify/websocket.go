package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/dpup/prefab/logging"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/lamain12/Roadpulse-backend/internal/lib/incident"
)

const writeTimeout = 10 * time.Second

// SnapshotItem is the wire form of one active incident
type SnapshotItem struct {
	IncidentID   string     `json:"incident_id"`
	Type         string     `json:"type"`
	Location     [2]float64 `json:"location"`
	ReportedAt   time.Time  `json:"reported_at"`
	PlaceName    string     `json:"place_name"`
	DelayMinutes int        `json:"delay_minutes"`
}

// SnapshotItems converts a snapshot to its wire form
func SnapshotItems(snap incident.Snapshot) []SnapshotItem {
	items := make([]SnapshotItem, 0, len(snap.Incidents))
	for _, inc := range snap.Incidents {
		place := inc.PlaceName
		if place == "" {
			place = incident.UnknownPlace
		}
		items = append(items, SnapshotItem{
			IncidentID:   inc.ID,
			Type:         inc.Type,
			Location:     [2]float64{inc.Location.Latitude, inc.Location.Longitude},
			ReportedAt:   inc.ReportedAt,
			PlaceName:    place,
			DelayMinutes: inc.DelayMinutes,
		})
	}
	return items
}

// SnapshotSource produces the current snapshot on request
type SnapshotSource interface {
	Snapshot(ctx context.Context) (incident.Snapshot, error)
}

// WebsocketSubscriber writes snapshots to one websocket connection
type WebsocketSubscriber struct {
	id      string
	conn    *websocket.Conn
	writeMu sync.Mutex
}

// NewWebsocketSubscriber wraps an upgraded connection
func NewWebsocketSubscriber(conn *websocket.Conn) *WebsocketSubscriber {
	return &WebsocketSubscriber{id: uuid.NewString(), conn: conn}
}

func (w *WebsocketSubscriber) ID() string { return w.id }

func (w *WebsocketSubscriber) Send(ctx context.Context, snap incident.Snapshot) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	if err := w.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return w.conn.WriteJSON(SnapshotItems(snap))
}

type clientMessage struct {
	Type string `json:"type"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Mobile clients connect without an Origin header
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WebsocketHandler upgrades the request and streams snapshots until the
// client disconnects. A {"type":"get_incidents"} message re-sends the current
// snapshot to that client only.
func WebsocketHandler(hub *Hub, source SnapshotSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := logging.EnsureLogger(r.Context())

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logging.Warnw(ctx, "notify: Websocket upgrade failed", "error", err)
			return
		}
		defer conn.Close()

		sub := NewWebsocketSubscriber(conn)
		hub.Add(sub)
		defer hub.Remove(sub.ID())

		// Initial snapshot for clients connecting before the first publish
		if snap, err := source.Snapshot(ctx); err == nil {
			hub.SendTo(sub.ID(), snap)
		}

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					logging.Warnw(ctx, "notify: Websocket closed unexpectedly", "subscriber", sub.ID(), "error", err)
				}
				return
			}

			var msg clientMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				logging.Warnw(ctx, "notify: Ignoring malformed websocket message", "subscriber", sub.ID(), "error", err)
				continue
			}
			if msg.Type != "get_incidents" {
				continue
			}

			snap, err := source.Snapshot(ctx)
			if err != nil {
				logging.Errorw(ctx, "notify: Failed to read snapshot", "subscriber", sub.ID(), "error", err)
				continue
			}
			hub.SendTo(sub.ID(), snap)
		}
	}
}
