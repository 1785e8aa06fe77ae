package api

import (
	"net/http"

	"github.com/sagernet/sing-relay/log"
	"github.com/sagernet/sing/common/json"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/render"
)

type logMessage struct {
	Type    string `json:"type"`
	Payload string `json:"payload"`
}

func (s *Server) getLogs(writer http.ResponseWriter, request *http.Request) {
	levelText := request.URL.Query().Get("level")
	if levelText == "" {
		levelText = "info"
	}
	level, err := log.ParseLevel(levelText)
	if err != nil {
		render.Status(request, http.StatusBadRequest)
		render.JSON(writer, request, ErrBadRequest)
		return
	}
	subscription, done, err := s.logFactory.Subscribe()
	if err != nil {
		render.Status(request, http.StatusServiceUnavailable)
		render.JSON(writer, request, newError(err.Error()))
		return
	}
	defer s.logFactory.UnSubscribe(subscription)

	var conn *websocket.Conn
	ctx := request.Context()
	if request.Header.Get("Upgrade") == "websocket" {
		conn, err = websocket.Accept(writer, request, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusInternalError, "")
		ctx = conn.CloseRead(ctx)
	} else {
		writer.Header().Set("Content-Type", "application/json")
		writer.WriteHeader(http.StatusOK)
		if flusher, isFlusher := writer.(http.Flusher); isFlusher {
			flusher.Flush()
		}
	}

	encoder := json.NewEncoder(writer)
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.ctx.Done():
			return
		case <-done:
			return
		case entry, loaded := <-subscription:
			if !loaded {
				return
			}
			if entry.Level > level {
				continue
			}
			message := logMessage{
				Type:    log.FormatLevel(entry.Level),
				Payload: entry.Message,
			}
			if conn != nil {
				err = wsjson.Write(ctx, conn, &message)
			} else {
				err = encoder.Encode(&message)
				if flusher, isFlusher := writer.(http.Flusher); isFlusher {
					flusher.Flush()
				}
			}
			if err != nil {
				return
			}
		}
	}
}

func (s *Server) getEvents(writer http.ResponseWriter, request *http.Request) {
	subscription, done, err := s.listManager.Subscribe()
	if err != nil {
		render.Status(request, http.StatusServiceUnavailable)
		render.JSON(writer, request, newError(err.Error()))
		return
	}
	defer s.listManager.UnSubscribe(subscription)

	var conn *websocket.Conn
	ctx := request.Context()
	if request.Header.Get("Upgrade") == "websocket" {
		conn, err = websocket.Accept(writer, request, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusInternalError, "")
		ctx = conn.CloseRead(ctx)
	} else {
		writer.Header().Set("Content-Type", "application/json")
		writer.WriteHeader(http.StatusOK)
		if flusher, isFlusher := writer.(http.Flusher); isFlusher {
			flusher.Flush()
		}
	}

	encoder := json.NewEncoder(writer)
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.ctx.Done():
			return
		case <-done:
			return
		case event, loaded := <-subscription:
			if !loaded {
				return
			}
			if conn != nil {
				err = wsjson.Write(ctx, conn, &event)
			} else {
				err = encoder.Encode(&event)
				if flusher, isFlusher := writer.(http.Flusher); isFlusher {
					flusher.Flush()
				}
			}
			if err != nil {
				return
			}
		}
	}
}
