package handler

import (
	"relaychat/internal/app/bus"
	"relaychat/internal/app/chat"
	"relaychat/internal/app/directory"
	"relaychat/internal/configs"
)

// AppDeps bundles the shared services the admin HTTP surface reads from.
type AppDeps struct {
	Directory *directory.Directory
	Bus       *bus.Bus
	Server    *chat.Server
	Config    *configs.AppConfig
}
