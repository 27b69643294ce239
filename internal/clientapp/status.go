package clientapp

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/skip2/go-qrcode"
)

const (
	busyWriteWait    = 5 * time.Second
	busyPingInterval = 30 * time.Second
	busyPongWait     = 2 * busyPingInterval
	kioskQRSize      = 320
)

type busyMessage struct {
	Cargando bool `json:"cargando"`
	Activas  int  `json:"activas"`
}

func (ws *workspace) busyMessage() busyMessage {
	state := ws.tracker.Snapshot()
	return busyMessage{Cargando: state.Visible, Activas: state.Active}
}

func (s *server) busyStatus(w http.ResponseWriter, r *http.Request) {
	ws := workspaceFrom(r.Context())
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, ws.busyMessage())
}

// busyStream pushes the busy indicator state over a websocket whenever it
// changes. Changes that arrive faster than the socket drains are coalesced
// into the latest state.
func (s *server) busyStream(w http.ResponseWriter, r *http.Request) {
	ws := workspaceFrom(r.Context())
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug().Err(err).Msg("busy stream upgrade failed")
		return
	}
	defer conn.Close()

	changed := make(chan struct{}, 1)
	unsubscribe := ws.tracker.Subscribe(func(bool) {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(busyPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(busyPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					s.log.Debug().Err(err).Str("workspace", shortID(ws.id)).Msg("busy stream closed")
				}
				return
			}
		}
	}()

	send := func() error {
		_ = conn.SetWriteDeadline(time.Now().Add(busyWriteWait))
		return conn.WriteJSON(ws.busyMessage())
	}
	if err := send(); err != nil {
		return
	}

	ping := time.NewTicker(busyPingInterval)
	defer ping.Stop()
	for {
		select {
		case <-closed:
			return
		case <-changed:
			if err := send(); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(busyWriteWait)); err != nil {
				return
			}
		}
	}
}

// kioskQR is a PNG QR code pointing at the kiosk page.
func (s *server) kioskQR(w http.ResponseWriter, r *http.Request) {
	png, err := qrcode.Encode(kioskURL(s.cfg.PublicURL, r), qrcode.Medium, kioskQRSize)
	if err != nil {
		s.log.Error().Err(err).Msg("kiosk qr")
		http.Error(w, "No se pudo generar el código QR", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(png)
}

func kioskURL(publicURL string, r *http.Request) string {
	if publicURL != "" {
		return strings.TrimRight(publicURL, "/") + "/kiosko"
	}
	scheme := "http"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	return scheme + "://" + r.Host + "/kiosko"
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
