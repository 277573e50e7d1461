package server

import (
	"context"
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/labstack/echo/v4"

	"github.com/Tyrowin/roomchat/internal/hub"
)

// maxRoomIDLength bounds the room segment of channel and page URLs.
const maxRoomIDLength = 256

// HealthText is the body of GET /.
const HealthText = "roomchat server is running!"

type statsResponse struct {
	Rooms       int      `json:"rooms"`
	Connections int      `json:"connections"`
	RoomIDs     []string `json:"room_ids"`
}

// roomParam extracts the room id of a /message/:room or /chat/:room request.
// Routes without the segment address the global scope and yield "".
func roomParam(c echo.Context) (string, error) {
	if len(c.ParamNames()) == 0 {
		return "", nil
	}

	// The router matches on RawPath when the request has one, leaving params escaped.
	room := c.Param("room")
	if c.Request().URL.RawPath != "" {
		unescaped, err := url.PathUnescape(room)
		if err != nil {
			return "", echo.NewHTTPError(http.StatusBadRequest, "invalid room id")
		}
		room = unescaped
	}
	if room == "" {
		return "", echo.NewHTTPError(http.StatusBadRequest, "room id must not be empty")
	}
	if len(room) > maxRoomIDLength {
		return "", echo.NewHTTPError(http.StatusBadRequest, "room id too long")
	}
	return room, nil
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.String(http.StatusOK, HealthText)
}

func (s *Server) handleHealthJSON(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStats(c echo.Context) error {
	rooms, connections := s.hub.Stats()
	return c.JSON(http.StatusOK, statsResponse{
		Rooms:       rooms,
		Connections: connections,
		RoomIDs:     s.hub.Rooms(),
	})
}

// handleWebSocket upgrades the request and runs the connection's session
// until it ends. The handler goroutine is the session loop.
func (s *Server) handleWebSocket(c echo.Context) error {
	room, err := roomParam(c)
	if err != nil {
		return err
	}

	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// The upgrader has already written the error response.
		s.logger.Debug("WebSocket upgrade failed", slog.Any("error", err))
		return nil
	}

	client := NewClient(conn, s.cfg, s.clock, s.logger)
	client.Start()

	ctx := context.WithoutCancel(c.Request().Context())
	if err := s.hub.Serve(ctx, client, room); err != nil {
		if errors.Is(err, hub.ErrHubClosed) {
			s.logger.Debug("Rejected connection during shutdown", slog.String("room", room))
			return nil
		}
		s.logger.Warn("Session ended with error",
			slog.String("room", room),
			slog.String("remote_addr", client.addr),
			slog.Any("error", err),
		)
	}
	return nil
}

type chatPageData struct {
	Room   string
	WSPath string
}

func (s *Server) handleChatPage(c echo.Context) error {
	room, err := roomParam(c)
	if err != nil {
		return err
	}

	data := chatPageData{Room: room, WSPath: "/message"}
	if room != "" {
		data.WSPath = "/message/" + url.PathEscape(room)
	}

	c.Response().Header().Set(echo.HeaderContentType, echo.MIMETextHTMLCharsetUTF8)
	c.Response().WriteHeader(http.StatusOK)
	if err := chatPageTemplate.Execute(c.Response(), data); err != nil {
		s.logger.Error("Error rendering chat page", slog.Any("error", err))
	}
	return nil
}

var chatPageTemplate = template.Must(template.New("chat").Parse(`<!DOCTYPE html>
<html>
<head>
    <title>roomchat{{if .Room}} · {{.Room}}{{end}}</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        #messages {
            border: 1px solid #ccc;
            height: 300px;
            padding: 10px;
            overflow-y: scroll;
            margin: 10px 0;
            background-color: #f9f9f9;
        }
        input[type="text"] { padding: 5px; margin-right: 10px; }
        #messageInput { width: 300px; }
        button {
            padding: 5px 15px;
            background-color: #007cba;
            color: white;
            border: none;
            cursor: pointer;
        }
        button:hover { background-color: #005a87; }
        .status { margin: 10px 0; padding: 5px; border-radius: 3px; }
        .connected { background-color: #d4edda; color: #155724; }
        .disconnected { background-color: #f8d7da; color: #721c24; }
        .mine { color: blue; }
        .theirs { color: green; }
        .info { color: gray; font-style: italic; }
    </style>
</head>
<body>
    <h1>{{if .Room}}Room {{.Room}}{{else}}Global channel{{end}}</h1>

    <div id="status" class="status disconnected">Disconnected</div>

    <div>
        <input type="text" id="usernameInput" placeholder="Your name">
        <button id="connectButton" onclick="toggleConnection()">Connect</button>
    </div>
    <div>
        <input type="text" id="messageInput" placeholder="Type a message..." disabled>
        <button id="sendButton" onclick="sendMessage()" disabled>Send</button>
    </div>

    <div id="messages"></div>

    <script>
        const wsPath = {{.WSPath}};
        let ws = null;
        const messagesDiv = document.getElementById('messages');
        const usernameInput = document.getElementById('usernameInput');
        const messageInput = document.getElementById('messageInput');
        const sendButton = document.getElementById('sendButton');
        const connectButton = document.getElementById('connectButton');
        const statusDiv = document.getElementById('status');

        function addLine(text, cls) {
            const line = document.createElement('div');
            line.className = cls;
            line.textContent = text;
            messagesDiv.appendChild(line);
            messagesDiv.scrollTop = messagesDiv.scrollHeight;
        }

        function updateStatus(connected) {
            statusDiv.textContent = connected ? 'Connected' : 'Disconnected';
            statusDiv.className = 'status ' + (connected ? 'connected' : 'disconnected');
            messageInput.disabled = !connected;
            sendButton.disabled = !connected;
            connectButton.textContent = connected ? 'Disconnect' : 'Connect';
        }

        function connect() {
            const scheme = location.protocol === 'https:' ? 'wss://' : 'ws://';
            ws = new WebSocket(scheme + location.host + wsPath);

            ws.onopen = function() { updateStatus(true); };
            ws.onmessage = function(event) {
                let env;
                try { env = JSON.parse(event.data); } catch (e) { return; }
                addLine(env.username + ': ' + env.data, env.isMe ? 'mine' : 'theirs');
            };
            ws.onclose = function() {
                addLine('Connection closed', 'info');
                updateStatus(false);
                ws = null;
            };
            ws.onerror = function() { addLine('Connection error', 'info'); };
        }

        function toggleConnection() {
            if (ws && ws.readyState === WebSocket.OPEN) {
                ws.close();
            } else {
                connect();
            }
        }

        function sendMessage() {
            const message = messageInput.value.trim();
            if (message && ws && ws.readyState === WebSocket.OPEN) {
                ws.send(JSON.stringify({username: usernameInput.value || 'anonymous', message: message}));
                messageInput.value = '';
            }
        }

        messageInput.addEventListener('keypress', function(e) {
            if (e.key === 'Enter') {
                sendMessage();
            }
        });
    </script>
</body>
</html>`))
