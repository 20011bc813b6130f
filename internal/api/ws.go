package api

import (
	"net/http"

	perrors "github.com/dpup/prefab/errors"
	"github.com/dpup/prefab/logging"
	"github.com/gorilla/websocket"
	"google.golang.org/grpc/codes"

	"github.com/tripwatch/server/internal/lib/circles"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

var errNotInCircle = perrors.NewC("not a member of this circle", codes.PermissionDenied)

// handleWebSocket joins the caller to the realtime room of their circle.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user := caller(r)
	code := circles.NormalizeCode(r.URL.Query().Get("circle"))
	if code == "" {
		writeError(ctx, w, perrors.NewC("circle is required", codes.InvalidArgument))
		return
	}

	c, err := s.Circles.CircleForUser(ctx, user)
	if err != nil || c.Code != code {
		writeError(ctx, w, errNotInCircle)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warnw(ctx, "Realtime: websocket upgrade failed", "user_id", user, "error", err)
		return
	}

	client := s.Hub.Join(code, conn)
	logging.Infow(ctx, "Realtime: client joined", "user_id", user, "room", code, "client_id", client.ID)
	client.Serve(ctx)
	logging.Infow(ctx, "Realtime: client left", "user_id", user, "room", code, "client_id", client.ID)
}
