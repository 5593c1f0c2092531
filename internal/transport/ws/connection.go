package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benmeehan/presence-engine/pkg/location"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 16 * 1024
	sendBuffer     = 32
	requestTimeout = 5 * time.Second
)

var errConnectionClosed = errors.New("connection closed")

// Connection is one device websocket.
type Connection struct {
	ID       string
	DeviceID string

	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
	once   sync.Once
	logger zerolog.Logger
}

func newConnection(hub *Hub, conn *websocket.Conn, id, deviceID string) *Connection {
	return &Connection{
		ID:       id,
		DeviceID: deviceID,
		hub:      hub,
		conn:     conn,
		send:     make(chan []byte, sendBuffer),
		done:     make(chan struct{}),
		logger:   hub.Logger.With().Str("connection_id", id).Str("device_id", deviceID).Logger(),
	}
}

// Send queues a frame for the write pump.
func (c *Connection) Send(msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return errConnectionClosed
	case c.send <- data:
		return nil
	default:
		return fmt.Errorf("send buffer of %s is full", c.ID)
	}
}

// Close sends a close frame and releases the socket. It is safe to call more than once.
func (c *Connection) Close(code int, reason string) {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
		_ = c.conn.Close()
	})
}

func (c *Connection) readPump() {
	defer func() {
		c.Close(websocket.CloseNormalClosure, "")
		c.hub.release(c)
	}()

	c.conn.SetReadLimit(maxMessageSize)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Warn().Err(err).Msg("Websocket read error")
			}
			return
		}
		c.handleMessage(data)
	}
}

// writePump owns all data writes and runs the heartbeat tick of the connection.
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.hub.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Warn().Err(err).Msg("Websocket write error")
				c.Close(websocket.CloseInternalServerErr, "write failed")
				return
			}
		case <-ticker.C:
			if c.hub.Session.HeartbeatTick(c.ID) {
				return
			}
		}
	}
}

func (c *Connection) handleMessage(data []byte) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("invalid message format")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	switch msg.Type {
	case MsgTypePing:
		c.hub.Session.ClientPing(c.ID)
		_ = c.Send(Message{Type: MsgTypePong, Ts: time.Now().UnixMilli()})

	case MsgTypeLocation:
		var loc LocationData
		if err := json.Unmarshal(msg.Data, &loc); err != nil {
			c.sendError("invalid location data")
			return
		}
		lat, lon, err := loc.coordinates()
		if err != nil {
			c.sendError(err.Error())
			return
		}
		if err := c.hub.Session.UpdateLocation(ctx, c.ID, lat, lon); err != nil {
			c.logger.Warn().Err(err).Msg("Location update not applied")
		}

	case MsgTypeOperator:
		var op OperatorData
		if err := json.Unmarshal(msg.Data, &op); err != nil {
			c.sendError("invalid operator data")
			return
		}
		if err := c.hub.Session.ReassignOperator(ctx, c.ID, op.OperatorID); err != nil {
			c.logger.Warn().Err(err).Msg("Operator change not applied")
		}

	default:
		c.sendError("unknown message type")
	}
}

func (c *Connection) sendError(reason string) {
	data, _ := json.Marshal(map[string]string{"error": reason})
	_ = c.Send(Message{Type: MsgTypeError, Data: data, Ts: time.Now().UnixMilli()})
}

func (l LocationData) coordinates() (float64, float64, error) {
	if l.NMEA != "" {
		pos, err := location.ParseNMEA(l.NMEA)
		if err != nil {
			return 0, 0, fmt.Errorf("invalid nmea sentence: %w", err)
		}
		return pos.Latitude, pos.Longitude, nil
	}
	if l.Lat == nil || l.Lon == nil {
		return 0, 0, errors.New("location requires lat and lon or nmea")
	}
	return *l.Lat, *l.Lon, nil
}
