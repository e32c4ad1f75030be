package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/yoockh/yoocall/internal/realtime"
)

type RoomHandler struct {
	rooms *realtime.Rooms
}

func NewRoomHandler(rooms *realtime.Rooms) *RoomHandler {
	return &RoomHandler{rooms: rooms}
}

type RoomMembersResponse struct {
	RoomID      string   `json:"room_id"`
	MemberCount int      `json:"member_count"`
	Members     []string `json:"members"`
}

func (h *RoomHandler) Members(c *gin.Context) {
	roomID := c.Param("room_id")
	members := h.rooms.Members(roomID)
	c.JSON(http.StatusOK, RoomMembersResponse{
		RoomID:      roomID,
		MemberCount: len(members),
		Members:     members,
	})
}
