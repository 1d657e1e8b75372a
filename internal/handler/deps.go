package handler

import (
	"roomsync/internal/app/identity"
	"roomsync/internal/app/room"
	"roomsync/internal/app/store"
	"roomsync/internal/configs"
)

// AppDeps bundles the shared dependencies handed to every handler.
type AppDeps struct {
	Registry *room.Registry
	Resolver *identity.Resolver
	Store    store.ChatStore
	Config   *configs.AppConfig
}
