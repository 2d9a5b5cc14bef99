// Copyright 2026 The Zaparoo Project Contributors.
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	nfc "github.com/ZaparooProject/go-nfc"
	"github.com/ZaparooProject/go-nfc/internal/syncutil"
)

const (
	feedWriteTimeout = 2 * time.Second
	feedQueueLen     = 16
)

// Card event kinds sent on the feed.
const (
	EventDetected = "detected"
	EventRemoved  = "removed"
	EventWritten  = "written"
)

// CardEvent is the JSON message pushed to feed clients.
type CardEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Type      string    `json:"type"`
	ID        string    `json:"id,omitempty"`
	UID       string    `json:"uid,omitempty"`
	CardType  string    `json:"card_type,omitempty"`
	Protocol  string    `json:"protocol,omitempty"`
	Text      string    `json:"text,omitempty"`
}

func newCardEvent(kind string, info *nfc.CardInfo) CardEvent {
	ev := CardEvent{Type: kind, Timestamp: time.Now()}
	if info == nil {
		return ev
	}
	ev.Timestamp = info.Timestamp
	ev.ID = info.DetectionID.String()
	ev.UID = info.UIDHex()
	ev.CardType = info.CardType.String()
	ev.Protocol = info.Subtype.String()
	return ev
}

type feedClient struct {
	conn *websocket.Conn
	send chan CardEvent
}

// feed broadcasts card events to websocket clients. A client that joins
// while a card is present receives that card first.
type feed struct {
	logger   *slog.Logger
	clients  map[uuid.UUID]*feedClient
	last     *CardEvent
	upgrader websocket.Upgrader
	mu       syncutil.Mutex
}

func newFeed(logger *slog.Logger) *feed {
	return &feed{
		logger:  logger,
		clients: make(map[uuid.UUID]*feedClient),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

func (f *feed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.logger.Warn("feed upgrade failed", "error", err)
		return
	}
	id := uuid.New()
	c := &feedClient{conn: conn, send: make(chan CardEvent, feedQueueLen)}

	f.mu.Lock()
	f.clients[id] = c
	if f.last != nil {
		c.send <- *f.last
	}
	f.mu.Unlock()
	f.logger.Info("feed client connected", "client", id, "remote", r.RemoteAddr)

	go f.writeLoop(id, c)
	f.readLoop(id, c)
}

// readLoop discards client messages until the connection ends.
func (f *feed) readLoop(id uuid.UUID, c *feedClient) {
	defer f.drop(id)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				f.logger.Warn("feed client error", "client", id, "error", err)
			}
			return
		}
	}
}

func (f *feed) writeLoop(id uuid.UUID, c *feedClient) {
	defer func() { _ = c.conn.Close() }()
	for ev := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(feedWriteTimeout))
		if err := c.conn.WriteJSON(ev); err != nil {
			f.logger.Debug("feed write failed", "client", id, "error", err)
			f.drop(id)
			return
		}
	}
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(feedWriteTimeout))
}

func (f *feed) drop(id uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.clients[id]; ok {
		delete(f.clients, id)
		close(c.send)
		f.logger.Info("feed client disconnected", "client", id)
	}
}

// Publish queues ev for every client. Clients whose queue is full are
// disconnected.
func (f *feed) Publish(ev CardEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch ev.Type {
	case EventDetected:
		f.last = &ev
	case EventRemoved:
		f.last = nil
	}
	for id, c := range f.clients {
		select {
		case c.send <- ev:
		default:
			delete(f.clients, id)
			close(c.send)
			f.logger.Warn("feed client too slow, dropped", "client", id)
		}
	}
}

// Clients returns the number of connected clients.
func (f *feed) Clients() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.clients)
}

// Close disconnects every client.
func (f *feed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, c := range f.clients {
		delete(f.clients, id)
		close(c.send)
	}
}

// serveFeed runs the feed on addr until the server is shut down.
func serveFeed(addr string, f *feed) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/cards", f)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			f.logger.Error("feed server stopped", "error", err)
		}
	}()
	return srv
}
