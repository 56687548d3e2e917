package handler

import (
	"fitclub/backend/internal/chathub"
	"fitclub/backend/internal/storage"
)

// Handler holds the hub and storage the HTTP endpoints work against.
type Handler struct {
	Hub       *chathub.ManagerService
	Storage   storage.Storage
	JWTSecret []byte
}

func NewHandler(hub *chathub.ManagerService, s storage.Storage, jwtSecret []byte) *Handler {
	return &Handler{Hub: hub, Storage: s, JWTSecret: jwtSecret}
}
